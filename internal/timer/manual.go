package timer

import (
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	seq      uint64
	f        func()
	done     bool
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	mt := &manualTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, mt)
	return mt
}

// Advance moves the clock forward by d, firing every callback that falls due
// in deadline order. Callbacks scheduled while advancing fire too if they are
// due before the new time.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.compact()
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of scheduled callbacks that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, mt := range c.pending {
		if !mt.done {
			n++
		}
	}
	return n
}

func (c *ManualClock) nextDue(target time.Time) *manualTimer {
	var next *manualTimer
	for _, mt := range c.pending {
		if mt.done || mt.deadline.After(target) {
			continue
		}
		if next == nil || mt.deadline.Before(next.deadline) ||
			(mt.deadline.Equal(next.deadline) && mt.seq < next.seq) {
			next = mt
		}
	}
	return next
}

func (c *ManualClock) compact() {
	live := c.pending[:0]
	for _, mt := range c.pending {
		if !mt.done {
			live = append(live, mt)
		}
	}
	c.pending = live
}

func (mt *manualTimer) Stop() bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	if mt.done {
		return false
	}
	mt.done = true
	return true
}
