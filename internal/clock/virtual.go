package clock

import (
	"context"
	"sync"
	"time"
)

// Virtual is a manually advanced clock for tests. Sleepers wake when Advance
// moves the clock past their deadline.
//
// Safe for concurrent use.
type Virtual struct {
	mu      sync.Mutex
	current time.Time
	waiters map[*waiter]struct{}
	changed chan struct{}
}

type waiter struct {
	deadline time.Time
	ch       chan struct{}
}

// NewVirtual returns a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{
		current: start,
		waiters: make(map[*waiter]struct{}),
		changed: make(chan struct{}),
	}
}

// Now returns the virtual time.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep blocks until the clock has been advanced by d or ctx is done.
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	c.mu.Lock()
	w := &waiter{deadline: c.current.Add(d), ch: make(chan struct{})}
	c.waiters[w] = struct{}{}
	c.notifyLocked()
	c.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, w)
		c.notifyLocked()
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves the clock forward by d and wakes every sleeper whose deadline passed.
func (c *Virtual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	for w := range c.waiters {
		if !w.deadline.After(c.current) {
			close(w.ch)
			delete(c.waiters, w)
		}
	}
	c.notifyLocked()
}

// Pending is the number of sleepers still waiting.
func (c *Virtual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// WaitForSleepers blocks until exactly n sleepers are waiting or ctx is done.
func (c *Virtual) WaitForSleepers(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		if len(c.waiters) == n {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// notifyLocked wakes WaitForSleepers callers. Must be called with c.mu held.
func (c *Virtual) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
