package engine

import "sync/atomic"

// Clock numbers processed events. Values come from the change log, never
// from wall-clock time, so replaying the same events yields the same
// numbering. Safe for concurrent use.
type Clock struct {
	last atomic.Int64
}

// NewClock creates a clock whose first value is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is last+1.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.last.Store(last)
	return c
}

// Next issues the next sequence number.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.last.Load()
}

// AdvanceTo moves the clock forward so the next value is at least last+1.
// A clock already at or past last is left alone: numbers are never reissued.
func (c *Clock) AdvanceTo(last int64) {
	for {
		cur := c.last.Load()
		if cur >= last || c.last.CompareAndSwap(cur, last) {
			return
		}
	}
}
