package protocol

import (
	"context"
	"fmt"
	"sync"
)

// Registry routes messages to the dispatcher registered for their protocol.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

func NewRegistry() *Registry {
	return &Registry{dispatchers: make(map[string]Dispatcher)}
}

func (r *Registry) Register(protocol string, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[protocol] = d
}

func (r *Registry) Dispatch(ctx context.Context, participantContextID string, msg RemoteMessage) (StatusResult, error) {
	r.mu.RLock()
	d, ok := r.dispatchers[msg.Protocol()]
	r.mu.RUnlock()
	if !ok {
		return Fatal(fmt.Sprintf("%s: %q", ErrUnsupportedProtocol, msg.Protocol())), nil
	}
	return d.Dispatch(ctx, participantContextID, msg)
}
