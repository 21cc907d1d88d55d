// Package llm defines the language-model contract used by the agent loop
// and the provider adapters that satisfy it.
package llm

import (
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Timestamp  time.Time  `json:"timestamp,omitzero"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned, echoed back on the tool result
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any LLM provider. Wire
// format conversion happens at provider boundaries.
type ChatResponse struct {
	Model   string
	Message Message

	// Segments holds each text block in the order the provider returned
	// them. Message.Content is their concatenation.
	Segments []string

	// StopReason is the provider's stop indicator (end_turn, tool_use,
	// max_tokens, stop).
	StopReason string

	InputTokens  int
	OutputTokens int
}

// Text concatenates all text segments of the response.
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	if len(r.Segments) > 0 {
		return strings.Join(r.Segments, "")
	}
	return r.Message.Content
}

// HasToolCalls reports whether the model asked for tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}
