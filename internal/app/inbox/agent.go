package inbox

import "context"

type agentKey struct{}

// WithAgent attaches the authenticated agent id to ctx.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentFromContext returns the agent id set by WithAgent.
func AgentFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentKey{}).(string)
	return id, ok && id != ""
}
