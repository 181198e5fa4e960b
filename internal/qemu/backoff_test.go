package qemu

import (
	"testing"
	"time"
)

func TestDefaultBackoffSchedule(t *testing.T) {
	t.Parallel()

	intervals := DefaultBackoff().Intervals()
	want := []time.Duration{500, 400, 300, 200, 100, 100}
	for i, w := range want {
		if intervals[i] != w*time.Millisecond {
			t.Fatalf("interval %d: got %s want %s", i, intervals[i], w*time.Millisecond)
		}
	}
}

func TestBackoffIsNonIncreasingAndFloored(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 50 * time.Millisecond, Step: 7 * time.Millisecond, Min: 10 * time.Millisecond, Budget: 2 * time.Second}
	intervals := b.Intervals()
	for i := 1; i < len(intervals); i++ {
		if intervals[i] > intervals[i-1] {
			t.Fatalf("interval %d increased: %s > %s", i, intervals[i], intervals[i-1])
		}
		if intervals[i] < b.Min {
			t.Fatalf("interval %d below floor: %s", i, intervals[i])
		}
	}
}

func TestBackoffStaysWithinBudgetPlusOneInterval(t *testing.T) {
	t.Parallel()

	for _, b := range []Backoff{
		DefaultBackoff(),
		{Initial: 300 * time.Millisecond, Step: 100 * time.Millisecond, Min: 100 * time.Millisecond, Budget: time.Second},
		{Initial: 10 * time.Millisecond, Min: 10 * time.Millisecond, Budget: 95 * time.Millisecond},
	} {
		var total time.Duration
		intervals := b.Intervals()
		for _, d := range intervals {
			total += d
		}
		if total < b.Budget {
			t.Fatalf("schedule ends before budget: total %s budget %s", total, b.Budget)
		}
		if total-intervals[len(intervals)-1] >= b.Budget {
			t.Fatalf("schedule has a round past the budget: total %s budget %s", total, b.Budget)
		}
	}
}

func TestBackoffDefaultsFillZeroFields(t *testing.T) {
	t.Parallel()

	got := Backoff{}.withDefaults()
	if got != (Backoff{Initial: 500 * time.Millisecond, Step: 100 * time.Millisecond, Min: 100 * time.Millisecond, Budget: 10 * time.Minute}) {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
