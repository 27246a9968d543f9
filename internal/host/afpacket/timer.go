package afpacket

import (
	"sync"
	"time"

	"firestige.xyz/pausefilter/internal/host"
)

// timer is a host.Timer over time.AfterFunc. A periodic timer re-arms only
// after its callback returns, so callbacks of one timer never overlap.
type timer struct {
	fn func()

	mu     sync.Mutex
	t      *time.Timer
	period time.Duration
	gen    uint64
	freed  bool
}

var _ host.Timer = (*timer)(nil)

func newTimer(fn func()) *timer {
	return &timer{fn: fn}
}

func (t *timer) Set(due, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.freed {
		return
	}
	t.stopLocked()
	t.period = period
	g := t.gen
	t.t = time.AfterFunc(due, func() { t.fire(g) })
}

func (t *timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

func (t *timer) Free() {
	t.mu.Lock()
	t.stopLocked()
	t.freed = true
	t.mu.Unlock()
}

// stopLocked disarms the timer and invalidates callbacks already scheduled.
func (t *timer) stopLocked() bool {
	t.gen++
	if t.t == nil {
		return false
	}
	t.t.Stop()
	t.t = nil
	return true
}

func (t *timer) fire(g uint64) {
	t.mu.Lock()
	if g != t.gen || t.freed {
		t.mu.Unlock()
		return
	}
	if t.period == 0 {
		t.t = nil
	}
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	if g == t.gen && !t.freed && t.period > 0 {
		t.t = time.AfterFunc(t.period, func() { t.fire(g) })
	}
}

func (t *timer) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}
