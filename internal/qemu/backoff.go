package qemu

import (
	"iter"
	"slices"
	"time"
)

// Backoff controls readiness polling. The interval starts at Initial and
// shrinks by Step each round down to Min; polling stops once the summed
// intervals reach Budget.
type Backoff struct {
	Initial time.Duration
	Step    time.Duration
	Min     time.Duration
	Budget  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 500 * time.Millisecond,
		Step:    100 * time.Millisecond,
		Min:     100 * time.Millisecond,
		Budget:  10 * time.Minute,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Step <= 0 {
		b.Step = d.Step
	}
	if b.Min <= 0 {
		b.Min = d.Min
	}
	if b.Min > b.Initial {
		b.Min = b.Initial
	}
	if b.Budget <= 0 {
		b.Budget = d.Budget
	}
	return b
}

// Schedule yields the sleep before each probe round, in order.
func (b Backoff) Schedule() iter.Seq[time.Duration] {
	b = b.withDefaults()
	return func(yield func(time.Duration) bool) {
		wait := b.Initial
		for waited := time.Duration(0); waited < b.Budget; {
			if !yield(wait) {
				return
			}
			waited += wait
			if wait > b.Min {
				wait = max(wait-b.Step, b.Min)
			}
		}
	}
}

// Intervals collects Schedule.
func (b Backoff) Intervals() []time.Duration {
	return slices.Collect(b.Schedule())
}
