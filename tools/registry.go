package tools

import (
	"context"
	"log/slog"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/logger"
	"github.com/vcell-ai/assistant/metrics"
	"github.com/vcell-ai/assistant/vcelldb"
)

// ============================================================================
// TOOL REGISTRY
// ============================================================================

// Registry holds the fixed tool catalog. It is immutable after construction
// and safe for concurrent dispatch.
type Registry struct {
	tools map[string]Tool
	order []string
	log   *slog.Logger
}

// NewRegistry builds the catalog over the shared service clients.
func NewRegistry(client *vcelldb.Client, kb *knowledge.Service, cfg *config.KnowledgeBaseConfig) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   logger.With("tools"),
	}
	r.register(NewFetchBiomodelsTool(client))
	r.register(NewFetchSimulationDetailsTool(client))
	r.register(NewGetVCMLFileTool(client))
	r.register(NewSearchKnowledgeBaseTool(kb, cfg.DefaultLimit))
	r.register(NewFetchPublicationsTool(client))
	return r
}

func (r *Registry) register(tool Tool) {
	name := tool.Definition().Name
	r.tools[name] = tool
	r.order = append(r.order, name)
}

// Definitions returns the tool schemas in registration order, for inclusion
// in every LLM request.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch executes one tool call and never fails: an unknown name returns
// an empty mapping, and a tool whose execution errors returns an empty list
// for list-shaped tools or an empty mapping otherwise. This keeps a single
// failing tool from aborting the whole conversation.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) interface{} {
	tool, ok := r.tools[name]
	if !ok {
		r.log.Warn("unknown tool requested", "tool", name)
		metrics.ToolExecutions.WithLabelValues(name, "unknown").Inc()
		return map[string]interface{}{}
	}

	r.log.Info("executing tool", "tool", name)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		r.log.Error("tool execution failed", "tool", name, "error", err)
		metrics.ToolExecutions.WithLabelValues(name, "error").Inc()
		if _, isList := tool.(listShaped); isList {
			return []interface{}{}
		}
		return map[string]interface{}{}
	}

	metrics.ToolExecutions.WithLabelValues(name, "success").Inc()
	return result
}
