package queries

import (
	"context"
	"fmt"

	"estatedesk/internal/app/bus"
)

// InMemoryBus routes queries to handlers registered at startup.
type InMemoryBus struct {
	routes *bus.Registry[Query]
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: bus.New[Query]("queries")}
}

func (b *InMemoryBus) Ask(ctx context.Context, query Query) (any, error) {
	route, ok := b.routes.Lookup(query.Key())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, query.Key())
	}
	return route(ctx, query)
}

func (b *InMemoryBus) Keys() []string {
	return b.routes.Keys()
}

func RegisterHandler[Q Query, R any](b *InMemoryBus, key string, handler Handler[Q, R]) {
	if b == nil {
		panic("queries: nil bus")
	}
	b.routes.Add(key, bus.Typed[Query](handler.Handle, fmt.Errorf("%w: %s", ErrInvalidQuery, key)))
}
