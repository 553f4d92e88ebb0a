// Package platform wraps the monotonic nanosecond clock the DAQ engine
// timestamps samples with, plus a deterministic stand-in for tests.
package platform

import "time"

// Clock produces monotonic 64-bit nanosecond timestamps, as required by the
// DAQ timestamping contract. Create one with NewClock; the zero value has
// no monotonic anchor and NowNs on it returns a saturated constant.
type Clock struct {
	epoch time.Time
}

// NewClock returns a Clock anchored to the current monotonic time.
func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// NowNs returns nanoseconds elapsed since the clock was created. time.Since
// keeps the monotonic reading carried by epoch, so this never regresses even
// across wall-clock adjustments.
func (c *Clock) NowNs() uint64 {
	return uint64(time.Since(c.epoch).Nanoseconds())
}

// SimClock is a deterministic stand-in for Clock used in tests that need to
// control the timestamp sequence precisely (e.g. to assert non-decreasing
// timestamps across a DAQ run).
type SimClock struct {
	ns uint64
}

// NewSimClock returns a SimClock starting at 0.
func NewSimClock() *SimClock { return &SimClock{} }

// NowNs returns the current simulated time.
func (s *SimClock) NowNs() uint64 { return s.ns }

// Advance moves the simulated clock forward by delta nanoseconds.
func (s *SimClock) Advance(delta uint64) { s.ns += delta }
