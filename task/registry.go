package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HandlerFunc is a type-erased handler that accepts the raw JSON payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Definition binds a handler to a task type. T is the payload type.
type Definition[T any] struct {
	Type    Type
	Handler func(ctx context.Context, payload T) error
	// Timeout overrides the executor's handler timeout when positive.
	Timeout time.Duration
}

// Option configures a Definition.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout bounds a single run of the handler.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NewDefinition creates a typed definition.
func NewDefinition[T any](typ Type, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Definition[T]{Type: typ, Handler: handler, Timeout: o.timeout}
}

type entry struct {
	fn      HandlerFunc
	timeout time.Duration
}

// Registry maps task types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]entry)}
}

// RegisterDefinition registers a typed definition. The payload is decoded
// into T before the handler runs; a payload that does not decode is a
// non-retryable failure.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	fn := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return NonRetryable(fmt.Errorf("unmarshal payload for %s: %w", def.Type, err))
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = entry{fn: fn, timeout: def.Timeout}
}

// Get returns the handler for typ.
func (r *Registry) Get(typ Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[typ]
	return e.fn, ok
}

// Timeout returns the per-type timeout override, or zero.
func (r *Registry) Timeout(typ Type) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[typ].timeout
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
