package voice

import "sync/atomic"

// Clock is a monotonic logical clock. Voice ids and channel recency
// stamps come from here rather than wall time, so allocation and stealing
// order is deterministic even when events land within the same tick.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
