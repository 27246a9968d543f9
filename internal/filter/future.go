package filter

import (
	"context"
	"sync"

	"firestige.xyz/pausefilter/internal/core"
)

// Future is the one-shot result of a request the engine issued itself.
// Resolve may be called from any goroutine; only the first call counts.
type Future struct {
	done   chan struct{}
	once   sync.Once
	status core.Status
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve records the final status and wakes waiters. It reports whether
// this call resolved the future.
func (f *Future) Resolve(status core.Status) bool {
	resolved := false
	f.once.Do(func() {
		f.status = status
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx ends.
func (f *Future) Wait(ctx context.Context) (core.Status, error) {
	select {
	case <-f.done:
		return f.status, nil
	case <-ctx.Done():
		return core.StatusRequestAborted, ctx.Err()
	}
}
