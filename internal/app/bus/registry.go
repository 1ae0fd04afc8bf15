// Package bus is the handler registry shared by the command and query buses.
package bus

import (
	"context"
	"sort"
	"sync"
)

// Message is anything routed by key.
type Message interface {
	Key() string
}

// Route is a registered handler with its message and result types erased.
type Route[M Message] func(ctx context.Context, msg M) (any, error)

// Registry maps keys to routes. Routes are added while wiring and looked up concurrently.
type Registry[M Message] struct {
	name   string
	mu     sync.RWMutex
	routes map[string]Route[M]
}

// New returns an empty registry; name prefixes its panics.
func New[M Message](name string) *Registry[M] {
	return &Registry[M]{name: name, routes: make(map[string]Route[M])}
}

// Add panics on an empty key, a nil route or a duplicate registration.
func (r *Registry[M]) Add(key string, route Route[M]) {
	if key == "" {
		panic(r.name + ": empty key registration")
	}
	if route == nil {
		panic(r.name + ": nil handler for " + key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.routes[key]; dup {
		panic(r.name + ": duplicate registration for " + key)
	}
	r.routes[key] = route
}

func (r *Registry[M]) Lookup(key string) (Route[M], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[key]
	return route, ok
}

// Keys lists the registered keys in order.
func (r *Registry[M]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Typed erases handle into a Route. A routed message that is not a T yields mismatch.
func Typed[M Message, T Message, R any](handle func(ctx context.Context, msg T) (R, error), mismatch error) Route[M] {
	return func(ctx context.Context, msg M) (any, error) {
		typed, ok := any(msg).(T)
		if !ok {
			return nil, mismatch
		}
		return handle(ctx, typed)
	}
}

// Result asserts a routed result to R. A nil result is R's zero value.
func Result[R any](res any, err error, mismatch error) (R, error) {
	var zero R
	if err != nil || res == nil {
		return zero, err
	}
	value, ok := res.(R)
	if !ok {
		return zero, mismatch
	}
	return value, nil
}
