package commands

import (
	"context"
	"errors"

	"estatedesk/internal/app/bus"
)

// Command is a write intent routed through the bus by its key.
type Command interface {
	bus.Message
}

type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("commands: handler not found")
	ErrInvalidCommand  = errors.New("commands: invalid command for handler")
	ErrResultType      = errors.New("commands: result type mismatch")
	ErrNilBus          = errors.New("commands: nil bus")
)

// Dispatch sends cmd through b and asserts the result type.
func Dispatch[C Command, R any](ctx context.Context, b Bus, cmd C) (R, error) {
	if b == nil {
		var zero R
		return zero, ErrNilBus
	}
	res, err := b.Dispatch(ctx, cmd)
	return bus.Result[R](res, err, ErrResultType)
}
