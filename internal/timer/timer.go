// Package timer provides a cancellable delayed callback bound to an owner's
// execution context.
package timer

import (
	"sync"
	"time"
)

// Clock is the time source used by Timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// Handle cancels a scheduled callback.
type Handle interface {
	Stop() bool
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// Timer is a one-shot callback that can be restarted or cancelled.
//
// Expired callbacks are handed to exec, which lets the owner run them under
// its own lock. A delivery that lost a race with Stop or Reset is discarded
// inside exec, so a cancelled timer never runs its callback.
type Timer struct {
	clock Clock
	exec  func(func())

	mu     sync.Mutex
	handle Handle
	gen    uint64
}

// New creates a stopped timer. A nil exec runs callbacks directly on the clock's goroutine.
func New(clock Clock, exec func(func())) *Timer {
	if clock == nil {
		clock = System()
	}
	if exec == nil {
		exec = func(f func()) { f() }
	}
	return &Timer{clock: clock, exec: exec}
}

// Reset cancels any pending callback and schedules f after d.
func (t *Timer) Reset(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		t.handle.Stop()
	}
	t.gen++
	gen := t.gen
	t.handle = t.clock.AfterFunc(d, func() {
		t.exec(func() {
			if !t.claim(gen) {
				return
			}
			f()
		})
	})
}

// Stop cancels the pending callback. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle == nil {
		return false
	}
	t.handle.Stop()
	t.handle = nil
	t.gen++
	return true
}

// Pending reports whether a callback is scheduled and has not run yet.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil
}

func (t *Timer) claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.handle == nil {
		return false
	}
	t.handle = nil
	return true
}
