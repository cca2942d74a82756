// Package clock abstracts the simulation time source so that signal ticks,
// scheduling passes and mission delays can run on wall-clock time in the
// simulator and on a manually advanced clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports false if the timer already fired or was stopped.
	Stop() bool
}

// Clock schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Clock backed by the time package. Callbacks run on their own goroutine.
type Real struct{}

// Now returns the wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type repeating struct {
	mu      sync.Mutex
	c       Clock
	d       time.Duration
	f       func()
	t       Timer
	stopped bool
}

// Every calls f every d until the returned Timer is stopped. The next
// occurrence is armed before f runs, so f may stop its own timer.
func Every(c Clock, d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	r := &repeating{c: c, d: d, f: f}
	r.mu.Lock()
	r.t = c.AfterFunc(d, r.fire)
	r.mu.Unlock()
	return r
}

func (r *repeating) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.t = r.c.AfterFunc(r.d, r.fire)
	r.mu.Unlock()
	r.f()
}

func (r *repeating) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	r.t.Stop()
	return true
}
