package events

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers.
type Sequencer interface {
	Next() int64
}

// Clock is a monotonic logical clock. Every published event is stamped
// from it, so subscribers can order events and spot gaps left by eviction.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, e.g. after the last
// sequence number found in the activity store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
