package testutil

import (
	"sync"
	"time"
)

// FakeClock is an auto-advancing clock for deterministic polling tests.
//
// After(d) moves the clock forward by d and returns a channel that is
// already readable, so polling loops run without sleeping while elapsed
// times still add up exactly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// FakeEpoch is the default start time of a FakeClock.
var FakeEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock starting at FakeEpoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: FakeEpoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns a channel holding the new time.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Advance moves the clock forward without recording a wait. Fakes use it
// to model collaborators that take time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Waits returns every duration passed to After, in order.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// Elapsed returns how far the clock has moved since FakeEpoch.
func (c *FakeClock) Elapsed() time.Duration {
	return c.Now().Sub(FakeEpoch)
}
