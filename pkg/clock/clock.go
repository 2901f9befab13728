// Package clock provides an injectable time source and the facility's
// business calendar. Components never call time.Now directly; tests
// substitute a Fixed clock.
package clock

import (
	"time"
)

// Clock is the time source injected into every component that needs "now".
type Clock interface {
	Now() time.Time
}

// Real is the production clock backed by the system time.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a test clock frozen at a configurable instant.
type Fixed struct {
	t time.Time
}

// NewFixed creates a fixed clock at the given instant.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	return f.t
}

// Set moves the frozen instant.
func (f *Fixed) Set(t time.Time) {
	f.t = t
}

// Advance moves the frozen instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}
