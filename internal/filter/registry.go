package filter

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/pausefilter/internal/core"
)

// Registry tracks the attached filters of one driver, keyed by handle.
// Its lock guards only the map and is never held across a call into a
// filter or the host.
type Registry struct {
	filters map[core.Handle]*Filter
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[core.Handle]*Filter),
	}
}

// Add registers f under its handle.
func (r *Registry) Add(f *Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filters[f.handle]; exists {
		return fmt.Errorf("%w: handle %s already attached", core.ErrInvalidRequest, f.handle)
	}
	r.filters[f.handle] = f
	return nil
}

// Remove unregisters the filter with handle h and reports whether it was present.
func (r *Registry) Remove(h core.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filters[h]; !exists {
		return false
	}
	delete(r.filters, h)
	return true
}

// Lookup returns the filter attached under h.
func (r *Registry) Lookup(h core.Handle) (*Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.filters[h]
	return f, ok
}

// Len returns the number of attached filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Snapshot returns the attached filters ordered by handle.
func (r *Registry) Snapshot() []*Filter {
	r.mu.RLock()
	out := make([]*Filter, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}
