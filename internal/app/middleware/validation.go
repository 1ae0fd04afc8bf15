package middleware

import (
	"context"

	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/queries"
)

// Validatable is implemented by messages that can check their own fields.
type Validatable interface {
	Validate() error
}

func validate(msg any) error {
	if v, ok := msg.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// Validation rejects malformed commands before they reach a handler.
func Validation() CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := validate(cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryValidation() QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := validate(q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}
