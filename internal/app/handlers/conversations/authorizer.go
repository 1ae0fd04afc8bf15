package conversations

import (
	"context"
	"errors"

	"estatedesk/internal/app/inbox"
)

var (
	ErrUnauthenticated = errors.New("conversations: agent not authenticated")
	ErrForbidden       = errors.New("conversations: message addressed to another agent")
)

// agentScoped is implemented by every command and query of this package.
type agentScoped interface {
	Agent() string
}

// AgentAuthorizer allows a message only when it targets the agent authenticated in ctx.
type AgentAuthorizer struct{}

func (AgentAuthorizer) Authorize(ctx context.Context, message any) error {
	scoped, ok := message.(agentScoped)
	if !ok {
		return nil
	}
	agentID, ok := inbox.AgentFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if scoped.Agent() != agentID {
		return ErrForbidden
	}
	return nil
}
