// Package timekeeper tracks one pending wall-clock deadline per key. It
// guarantees no duplicate timers accumulate for a key: scheduling again
// replaces the pending timer, canceling drops it.
package timekeeper

import (
	"sync"
	"time"
)

// Timekeeper schedules one-shot callbacks keyed by an arbitrary string.
type Timekeeper struct {
	lock   sync.Mutex
	timers map[string]*time.Timer
}

// New returns an empty Timekeeper.
func New() *Timekeeper {
	return &Timekeeper{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn to fire at the given time. A timer already pending for the
// key is canceled and replaced. If the deadline is in the past the callback
// fires immediately on its own goroutine.
func (t *Timekeeper) Schedule(key string, at time.Time, fn func()) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if pending, ok := t.timers[key]; ok {
		pending.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		t.lock.Lock()
		// a concurrent Schedule may have replaced this timer already
		if t.timers[key] == timer {
			delete(t.timers, key)
		}
		t.lock.Unlock()
		fn()
	})
	t.timers[key] = timer
}

// Cancel drops the pending timer for the key, reporting whether one existed.
// Canceling an unknown key is a no-op.
func (t *Timekeeper) Cancel(key string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	pending, ok := t.timers[key]
	if !ok {
		return false
	}
	pending.Stop()
	delete(t.timers, key)
	return true
}

// Stop cancels all pending timers.
func (t *Timekeeper) Stop() {
	t.lock.Lock()
	defer t.lock.Unlock()

	for key, pending := range t.timers {
		pending.Stop()
		delete(t.timers, key)
	}
}

// Len returns the number of pending timers.
func (t *Timekeeper) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.timers)
}
