// Package llms provides chat-completion provider clients with tool calling.
package llms

import "context"

// ============================================================================
// CORE TYPES
// ============================================================================

// Message represents a single message in a conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool exposed to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Strict      bool                   `json:"strict,omitempty"`
}

// Completion is the result of a single model call.
type Completion struct {
	Content    string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Tool choice modes for Generate.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Provider is the interface implemented by chat-completion backends.
type Provider interface {
	// Generate sends the conversation to the model and returns its reply,
	// which may include tool calls to execute.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, toolChoice string) (*Completion, error)

	// GetModelName returns the configured model identifier.
	GetModelName() string

	// Close releases provider resources.
	Close() error
}
