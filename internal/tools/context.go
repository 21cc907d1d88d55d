package tools

import "context"

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	agentNameKey      contextKey = "agent_name"
)

// WithConversationID adds the conversation ID to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns "default" if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithAgentName records which agent role is executing tools.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentNameKey, name)
}

// AgentNameFromContext returns the executing agent role, or "".
func AgentNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(agentNameKey).(string)
	return name
}
