// Package tools defines the fixed catalog of callable tools the model may
// invoke during a conversation, and the registry that dispatches them.
package tools

import (
	"context"

	"github.com/vcell-ai/assistant/llms"
)

// ============================================================================
// TOOL SYSTEM INTERFACES
// ============================================================================

// Tool is one callable tool exposed to the model.
type Tool interface {
	// Definition returns the schema advertised to the model.
	Definition() llms.ToolDefinition

	// Execute runs the tool with the raw arguments supplied by the model.
	// Arguments are validated and coerced before any network call.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// listShaped reports whether a tool's failure sentinel is an empty list
// rather than an empty mapping.
type listShaped interface {
	listShaped()
}
