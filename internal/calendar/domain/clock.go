package domain

import "time"

// Clock abstracts the system clock so strategies, the queue manager, and
// the occurrence engine can be driven by a fixed time in tests. Every
// suspension point in the sync pipeline that reads "now" goes through this
// interface instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() SystemClock { return SystemClock{} }

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock that always returns the same instant, advanced
// explicitly by tests.
type FixedClock struct {
	now time.Time
}

// NewFixedClock returns a FixedClock pinned to t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// Now returns the pinned instant.
func (c *FixedClock) Now() time.Time { return c.now }

// Advance moves the pinned instant forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Set pins the clock to t.
func (c *FixedClock) Set(t time.Time) { c.now = t.UTC() }
