package usecase

import (
	"context"
	"fmt"
	"jobstream/internal/domain"
	"sync"
)

// Handler runs one task. The returned value is JSON-encoded and stored as the
// task result.
type Handler func(ctx context.Context, exec *Execution) (any, error)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFunc, name)
	}
	return h, nil
}
