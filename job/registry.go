package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON payload.
type HandlerFunc func(ctx context.Context, j *Job) error

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]HandlerFunc),
	}
}

// Handle registers a raw handler for t, replacing any previous one.
func (r *Registry) Handle(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Register registers a typed handler. The payload is JSON-unmarshaled into
// T before the handler runs.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](r *Registry, t Type, fn func(ctx context.Context, payload T) error) {
	r.Handle(t, func(ctx context.Context, j *Job) error {
		var in T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &in); err != nil {
				return fmt.Errorf("unmarshal payload for job type %q: %w", t, err)
			}
		}
		return fn(ctx, in)
	})
}

// Get returns the handler for t.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}
