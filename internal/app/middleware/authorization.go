package middleware

import (
	"context"
	"fmt"

	"estatedesk/internal/app/bus"
	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/queries"
)

// Authorizer rejects messages the caller in ctx may not run.
type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// AuthorizerFunc lets a plain function serve as an Authorizer.
type AuthorizerFunc func(ctx context.Context, message any) error

func (f AuthorizerFunc) Authorize(ctx context.Context, message any) error {
	return f(ctx, message)
}

// Authorization rejects commands before any later middleware sees them. The
// rejection is wrapped with the command key.
func Authorization(a Authorizer) CommandMiddleware {
	check := guard(a)
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := check(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	check := guard(a)
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := check(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func guard(a Authorizer) func(ctx context.Context, msg bus.Message) error {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(ctx context.Context, msg bus.Message) error {
		if err := a.Authorize(ctx, msg); err != nil {
			return fmt.Errorf("%s: %w", msg.Key(), err)
		}
		return nil
	}
}
