package queries

import (
	"context"
	"errors"

	"estatedesk/internal/app/bus"
)

// Query is a read request routed by key.
type Query interface {
	bus.Message
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("queries: handler not found")
	ErrInvalidQuery    = errors.New("queries: invalid query for handler")
	ErrResultType      = errors.New("queries: result type mismatch")
	ErrNilBus          = errors.New("queries: nil bus")
)

// Ask runs query through b and asserts the result type.
func Ask[Q Query, R any](ctx context.Context, b Bus, query Q) (R, error) {
	if b == nil {
		var zero R
		return zero, ErrNilBus
	}
	res, err := b.Ask(ctx, query)
	return bus.Result[R](res, err, ErrResultType)
}
