package platform

import "testing"

func TestClockIsMonotonicallyNonDecreasing(t *testing.T) {
	c := NewClock()
	a := c.NowNs()
	b := c.NowNs()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}

func TestSimClockAdvance(t *testing.T) {
	s := NewSimClock()
	if s.NowNs() != 0 {
		t.Fatalf("expected SimClock to start at 0")
	}
	s.Advance(1000)
	if s.NowNs() != 1000 {
		t.Fatalf("expected 1000, got %d", s.NowNs())
	}
}
