package id

import "context"

type contextKey string

const (
	logKey   contextKey = "smsrelay_log_id"
	agentKey contextKey = "smsrelay_agent_id"
)

// WithLogID stores the request log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// LogIDFromContext returns the log identifier, if any.
func LogIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(logKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID stores the acting chat user on the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	if agentID == "" {
		return ctx
	}
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentIDFromContext returns the acting chat user, if any.
func AgentIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(agentKey).(string); ok {
		return v
	}
	return ""
}

// EnsureLogID returns ctx with a log id, generating one when absent.
func EnsureLogID(ctx context.Context) (context.Context, string) {
	if logID := LogIDFromContext(ctx); logID != "" {
		return ctx, logID
	}
	logID := NewLogID()
	return WithLogID(ctx, logID), logID
}
