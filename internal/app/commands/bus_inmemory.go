package commands

import (
	"context"
	"fmt"

	"estatedesk/internal/app/bus"
)

// InMemoryBus routes commands to handlers registered at startup.
type InMemoryBus struct {
	routes *bus.Registry[Command]
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: bus.New[Command]("commands")}
}

func (b *InMemoryBus) Dispatch(ctx context.Context, cmd Command) (any, error) {
	route, ok := b.routes.Lookup(cmd.Key())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.Key())
	}
	return route(ctx, cmd)
}

// Keys lists the registered command keys.
func (b *InMemoryBus) Keys() []string {
	return b.routes.Keys()
}

// RegisterHandler registers handler under key. It panics on a nil bus or a duplicate key.
func RegisterHandler[C Command, R any](b *InMemoryBus, key string, handler Handler[C, R]) {
	if b == nil {
		panic("commands: nil bus")
	}
	b.routes.Add(key, bus.Typed[Command](handler.Handle, fmt.Errorf("%w: %s", ErrInvalidCommand, key)))
}
