// Package middleware decorates the command and query buses. Chains are
// declared outermost first: ChainCommands(bus, Logging, Authorization)
// logs before it authorizes.
package middleware

import (
	"context"

	"estatedesk/internal/app/bus"
	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/queries"
)

type CommandMiddleware func(next commands.Bus) commands.Bus

type QueryMiddleware func(next queries.Bus) queries.Bus

func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	return wrap(base, mws)
}

func ChainQueries(base queries.Bus, mws ...QueryMiddleware) queries.Bus {
	return wrap(base, mws)
}

// wrap skips nil middlewares so optional stages can be passed unconditionally.
func wrap[B any, W ~func(B) B](base B, mws []W) B {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			base = mws[i](base)
		}
	}
	return base
}

type commandFunc bus.Route[commands.Command]

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

type queryFunc bus.Route[queries.Query]

func (f queryFunc) Ask(ctx context.Context, q queries.Query) (any, error) {
	return f(ctx, q)
}
