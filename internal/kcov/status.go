// Package kcov holds the kernel coverage facility constants shared by the
// instrumented program generator and the controller that interprets its
// outcome.
package kcov

import "fmt"

// StatusCode is the outcome reported by a generated program's execute
// entry point. The ordinal values are part of the process boundary
// contract: a generated executor exits with the ordinal of its status.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusKcovOpenErr
	StatusKcovCloseErr
	StatusKcovInitErr
	StatusKcovEnableErr
	StatusKcovDisableErr
	StatusCovSendErr
	StatusMmapErr
)

var statusNames = [...]string{
	StatusOK:             "Ok",
	StatusKcovOpenErr:    "KcovOpenErr",
	StatusKcovCloseErr:   "KcovCloseErr",
	StatusKcovInitErr:    "KcovInitErr",
	StatusKcovEnableErr:  "KcovEnableErr",
	StatusKcovDisableErr: "KcovDisableErr",
	StatusCovSendErr:     "CovSendErr",
	StatusMmapErr:        "MmapErr",
}

// Statuses lists every defined status in ordinal order.
func Statuses() []StatusCode {
	out := make([]StatusCode, len(statusNames))
	for i := range statusNames {
		out[i] = StatusCode(i)
	}
	return out
}

func (s StatusCode) String() string {
	if !s.Valid() {
		return fmt.Sprintf("StatusCode(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the defined statuses.
func (s StatusCode) Valid() bool {
	return s >= StatusOK && int(s) < len(statusNames)
}

// Ordinal is the value baked into generated code and used as exit status.
func (s StatusCode) Ordinal() int {
	return int(s)
}

// LookupStatus decodes an ordinal coming from outside the process, such as
// a child exit status, where values outside the enumeration are possible.
func LookupStatus(ordinal int) (StatusCode, bool) {
	s := StatusCode(ordinal)
	if !s.Valid() {
		return 0, false
	}
	return s, true
}

// MustStatus decodes an ordinal returned by generated code. Generated code
// only ever returns defined ordinals, so anything else is a bug in the
// generator and panics.
func MustStatus(ordinal int) StatusCode {
	s, ok := LookupStatus(ordinal)
	if !ok {
		panic(fmt.Sprintf("kcov: undefined status ordinal %d", ordinal))
	}
	return s
}
