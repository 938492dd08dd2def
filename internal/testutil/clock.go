package testutil

import (
	"sync"
	"time"
)

// Epoch is where every new Clock starts: 2025-01-01T00:00:00Z.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manually driven time source for TTL and scheduling tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock at start, or at Epoch when start is omitted.
func NewClock(start ...time.Time) *Clock {
	c := &Clock{now: Epoch}
	if len(start) > 0 {
		c.now = start[0]
	}
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowMs is Now in Unix milliseconds, the unit device timestamps use.
func (c *Clock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock by d; a negative d steps it back.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceMs moves the clock by ms milliseconds.
func (c *Clock) AdvanceMs(ms int64) {
	c.Advance(time.Duration(ms) * time.Millisecond)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Func returns c.Now for components that take a func() time.Time.
func (c *Clock) Func() func() time.Time {
	return c.Now
}
