// Package system provides wall and frozen clocks for run timestamps.
package system

import "time"

// Clock reports wall time in UTC.
type Clock struct{}

// New creates a wall clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Frozen always reports the same instant. Replays and tests use it to get
// byte-stable artifacts.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant in UTC.
func (f Frozen) Now() time.Time {
	return f.At.UTC()
}
