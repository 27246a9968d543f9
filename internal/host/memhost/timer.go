package memhost

import (
	"sync"
	"time"
)

// Timer is a manually fired host.Timer.
type Timer struct {
	fn func()

	mu     sync.Mutex
	armed  bool
	freed  bool
	due    time.Duration
	period time.Duration
	sets   int
}

func (t *Timer) Set(due, period time.Duration) {
	t.mu.Lock()
	t.armed = true
	t.due = due
	t.period = period
	t.sets++
	t.mu.Unlock()
}

func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}

func (t *Timer) Free() {
	t.mu.Lock()
	t.freed = true
	t.armed = false
	t.mu.Unlock()
}

// Fire runs the callback if the timer is armed and reports whether it ran.
// A one-shot timer disarms itself.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	if !t.armed || t.freed {
		t.mu.Unlock()
		return false
	}
	if t.period == 0 {
		t.armed = false
	}
	t.mu.Unlock()

	t.fn()
	return true
}

// Armed reports whether the timer is armed.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Freed reports whether Free was called.
func (t *Timer) Freed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freed
}

// Period returns the period of the last Set.
func (t *Timer) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Sets returns how many times Set was called.
func (t *Timer) Sets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sets
}
