package testing

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for lease tests.
// It is safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock standing at a fixed instant in UTC.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
