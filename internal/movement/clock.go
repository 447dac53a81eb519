package movement

import "sync/atomic"

// Clock is the monotonic logical clock stamping transition records.
//
// Every applied transition carries a strictly increasing seq from this
// clock. Ordering questions are answered by seq, never by wall-clock
// timestamps; RecordedAt exists for humans, not for sorting.
//
// Thread-safety: safe for concurrent use (atomic operations). Gaps are
// harmless; seq promises uniqueness and monotonicity, not density.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used to resume from the last persisted seq when reopening a log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock's position without advancing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
