package testutil

import "sync"

// DeterministicClock is a clock.Source that advances by a fixed step on
// every read, so consecutive requests get distinct, predictable times.
//
// Unlike clock.Manual, DeterministicClock moves on its own and can be reset
// for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	now   int64
}

// NewDeterministicClock creates a clock whose first reading is start.
// A step of zero keeps the clock still.
func NewDeterministicClock(start, step int64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start}
}

// NowMs returns the current reading and advances the clock by one step.
func (c *DeterministicClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.now
	c.now += c.step
	return v
}

// Current returns the next reading without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset moves the clock back to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
