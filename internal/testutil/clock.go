package testutil

import (
	"sync"
	"time"
)

// Clock is a settable wall clock for tests and harness scenarios.
//
// The movement and scoring engines take a now func; injecting Clock.Now
// makes decay, staleness, and cooldown arithmetic deterministic. The same
// scenario with the same start time produces byte-identical traces.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock reading without advancing it.
//
// Thread-safe: uses mutex to protect the reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
//
// Negative d moves it backward; scenarios use that to stage stale data.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
//
// Used for scenario reuse. Unlike Advance, Set does not preserve any
// ordering; callers own their timeline.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
