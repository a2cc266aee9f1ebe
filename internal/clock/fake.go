package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. Every call to Now returns
// a strictly later instant when Step is set, which keeps ordering assertions
// deterministic.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

// NewSteppingFakeClock returns a clock that advances by step after every read.
func NewSteppingFakeClock(t time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: t.UTC(), step: step}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
