package tools

import (
	"context"
	"fmt"

	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/llms"
)

// ============================================================================
// SEARCH KNOWLEDGE BASE
// ============================================================================

// SearchKnowledgeBaseTool retrieves the most relevant knowledge base chunks
// for a query.
type SearchKnowledgeBaseTool struct {
	service      *knowledge.Service
	defaultLimit int
}

func NewSearchKnowledgeBaseTool(service *knowledge.Service, defaultLimit int) *SearchKnowledgeBaseTool {
	if defaultLimit < 1 || defaultLimit > 100 {
		defaultLimit = 10
	}
	return &SearchKnowledgeBaseTool{service: service, defaultLimit: defaultLimit}
}

func (t *SearchKnowledgeBaseTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "search_knowledge_base",
		Description: "Searches the curated VCell knowledge base of uploaded documents for passages relevant to the query. Use this to answer questions about VCell concepts, tutorials, and background material that is not stored in the biomodel database itself.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query to search for",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of passages to return (1-100)",
				},
			},
			"required":             []string{"query", "limit"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func (t *SearchKnowledgeBaseTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var parsed struct {
		Query string `mapstructure:"query"`
		Limit int    `mapstructure:"limit"`
	}
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if parsed.Limit == 0 {
		parsed.Limit = t.defaultLimit
	}

	hits, err := t.service.Search(ctx, parsed.Query, parsed.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":  "success",
		"results": hits,
	}, nil
}
