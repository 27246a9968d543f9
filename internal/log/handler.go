package log

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentKey is the attribute that names the component a logger belongs to.
const ComponentKey = "component"

// Levels holds a default level and per-component overrides. It is safe for
// concurrent use and may be changed while loggers are live.
type Levels struct {
	mu         sync.RWMutex
	def        slog.Level
	components map[string]slog.Level
}

// NewLevels creates Levels with the given default and no overrides.
func NewLevels(def slog.Level) *Levels {
	return &Levels{def: def, components: map[string]slog.Level{}}
}

// For returns the level in effect for component.
func (l *Levels) For(component string) slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level, ok := l.components[component]; ok {
		return level
	}
	return l.def
}

// Set overrides the level of one component.
func (l *Levels) Set(component string, level slog.Level) {
	l.mu.Lock()
	l.components[component] = level
	l.mu.Unlock()
}

// SetDefault changes the level of components without an override.
func (l *Levels) SetDefault(level slog.Level) {
	l.mu.Lock()
	l.def = level
	l.mu.Unlock()
}

// Reset replaces the default and every override.
func (l *Levels) Reset(def slog.Level, components map[string]slog.Level) {
	l.mu.Lock()
	l.def = def
	l.components = make(map[string]slog.Level, len(components))
	for k, v := range components {
		l.components[k] = v
	}
	l.mu.Unlock()
}

// componentHandler filters records by the level of the component named in
// the logger's attributes.
type componentHandler struct {
	inner     slog.Handler
	levels    *Levels
	component string
}

// NewComponentHandler wraps inner so each component is filtered at its own
// level.
func NewComponentHandler(inner slog.Handler, levels *Levels) slog.Handler {
	return &componentHandler{inner: inner, levels: levels}
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.levels.For(h.component)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &componentHandler{
		inner:     h.inner.WithAttrs(attrs),
		levels:    h.levels,
		component: h.component,
	}
	for _, a := range attrs {
		if a.Key == ComponentKey {
			next.component = a.Value.String()
			break
		}
	}
	return next
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{
		inner:     h.inner.WithGroup(name),
		levels:    h.levels,
		component: h.component,
	}
}
