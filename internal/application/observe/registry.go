package observe

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds listeners and isolates callers from listener panics.
type Registry[L any] struct {
	mu        sync.RWMutex
	listeners []L
	logger    zerolog.Logger
}

func NewRegistry[L any](logger zerolog.Logger) *Registry[L] {
	return &Registry[L]{logger: logger}
}

func (r *Registry[L]) Register(l L) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Invoke calls fn for every listener in registration order.
func (r *Registry[L]) Invoke(fn func(L)) {
	r.mu.RLock()
	listeners := make([]L, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		r.call(l, fn)
	}
}

func (r *Registry[L]) call(l L, fn func(L)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("listener panicked")
		}
	}()
	fn(l)
}
