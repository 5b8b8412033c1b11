// Package agent implements the tool-calling orchestration loop that turns a
// user utterance into tool invocations and a final grounded answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/logger"
	"github.com/vcell-ai/assistant/metrics"
	"github.com/vcell-ai/assistant/tools"
	"github.com/vcell-ai/assistant/vcelldb"
)

// bmKeysField is the search-result field the loop harvests model keys from.
const bmKeysField = "unique_model_keys (bmkey)"

const systemPrompt = `You are a VCell BioModel Assistant, designed to help users understand and interact with biological models in VCell. Your task is to provide human-readable, accurate, detailed, and contextually appropriate responses based on the tools available. The following are specific instructions and guidelines you must follow to perform your role effectively:

### Guidelines
* Stick strictly to the user's query.
* Do not make assumptions or inferences about missing or incomplete information in the user's input.
* Provide elaborate, fact-based responses based solely on the available tool results.
* Include as many relevant details as possible, such as biomodel ID, names, descriptions, parameters, and any other relevant metadata that can aid in the user's understanding.
* If there is an opportunity for follow-up questions or further actions, always ask the user if they'd like to explore more options or if you can assist with other related tasks.
* You can call tools multiple times if needed to gather sufficient data or refine your answer.
* If asked about irrelevant topics, politely decline to answer.
* If asked for publications, research papers, or pubmed articles, use the fetch_publications tool and format publication links using markdown [Title](URL).
* For questions about VCell concepts, tutorials, or background material, use the search_knowledge_base tool.`

// ============================================================================
// AGENT
// ============================================================================

// Agent drives multi-turn LLM conversations over the tool registry.
// Construct once; each Converse call runs an independent loop.
type Agent struct {
	provider llms.Provider
	registry *tools.Registry
	vcell    *vcelldb.Client
	log      *slog.Logger
}

// New creates an agent over the shared provider, registry and data client.
func New(provider llms.Provider, registry *tools.Registry, vcell *vcelldb.Client) *Agent {
	return &Agent{
		provider: provider,
		registry: registry,
		vcell:    vcell,
		log:      logger.With("agent"),
	}
}

// Converse answers a user prompt, executing any tool calls the model
// requests. It returns the final answer together with the biomodel keys
// harvested from biomodel-search results during the run; the key list is
// empty when that tool was never invoked.
func (a *Agent) Converse(ctx context.Context, prompt string) (string, []string, error) {
	started := time.Now()
	defer func() { metrics.ConverseDuration.Observe(time.Since(started).Seconds()) }()

	messages := []llms.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	a.log.Info("conversation started", "prompt", prompt)

	defs := a.registry.Definitions()
	completion, err := a.generate(ctx, messages, defs, llms.ToolChoiceAuto)
	if err != nil {
		return "", nil, fmt.Errorf("chat completion failed: %w", err)
	}

	bmkeys := []string{}
	messages = append(messages, llms.Message{
		Role:      "assistant",
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	})

	if len(completion.ToolCalls) > 0 {
		results, err := a.executeToolCalls(ctx, completion.ToolCalls)
		if err != nil {
			return "", nil, err
		}

		// One tool result message per call, appended in call order.
		for i, call := range completion.ToolCalls {
			bmkeys = unionKeys(bmkeys, harvestBmKeys(results[i]))
			messages = append(messages, llms.Message{
				Role:       "tool",
				Content:    stringifyResult(results[i]),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// The final completion is always requested, even when no tools ran.

	final, err := a.generate(ctx, messages, defs, "")
	if err != nil {
		return "", nil, fmt.Errorf("final completion failed: %w", err)
	}

	a.log.Info("conversation finished",
		"tool_calls", len(completion.ToolCalls), "bmkeys", len(bmkeys))
	return final.Content, bmkeys, nil
}

// executeToolCalls dispatches all calls of one LLM turn concurrently. The
// returned slice is indexed by call order; dispatch itself never fails, so
// only context cancellation can surface here.
func (a *Agent) executeToolCalls(ctx context.Context, calls []llms.ToolCall) ([]interface{}, error) {
	results := make([]interface{}, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.log.Info("tool call", "tool", call.Name, "id", call.ID)
			results[i] = a.registry.Dispatch(gctx, call.Name, call.Arguments)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tool execution aborted: %w", err)
	}
	return results, nil
}

func (a *Agent) generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, toolChoice string) (*llms.Completion, error) {
	completion, err := a.provider.Generate(ctx, messages, defs, toolChoice)
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.LLMRequests.WithLabelValues("success").Inc()
	return completion, nil
}

// ============================================================================
// ANALYSIS HELPERS
// ============================================================================

// AnalyseVCML summarizes a biomodel's VCML definition. Failures are folded
// into the returned text so analysis endpoints always render something.
func (a *Agent) AnalyseVCML(ctx context.Context, biomodelID string) string {
	vcml, err := a.vcell.VCMLFile(ctx, biomodelID, false)
	if err != nil {
		a.log.Error("vcml analysis failed", "biomodel", biomodelID, "error", err)
		return fmt.Sprintf("An error occurred during VCML analysis: %v", err)
	}

	messages := []llms.Message{
		{Role: "system", Content: "You are a VCell BioModel Assistant, designed to help users understand and interact with biological models in VCell. Your task is to provide human-readable, concise responses based on the given VCML."},
		{Role: "user", Content: fmt.Sprintf("Analyze the following VCML content for Biomodel %s: %s", biomodelID, vcml)},
	}
	completion, err := a.generate(ctx, messages, nil, "")
	if err != nil {
		return fmt.Sprintf("An error occurred during VCML analysis: %v", err)
	}
	return completion.Content
}

// AnalyseBiomodel answers a user question in the context of one biomodel's
// database record.
func (a *Agent) AnalyseBiomodel(ctx context.Context, biomodelID string, prompt string) string {
	info, err := a.vcell.SearchBiomodels(ctx, vcelldb.BiomodelSearchParams{BmID: biomodelID, MaxRows: 1})
	if err != nil {
		a.log.Error("biomodel analysis failed", "biomodel", biomodelID, "error", err)
		return fmt.Sprintf("An error occurred during AI analysis: %v", err)
	}

	messages := []llms.Message{
		{Role: "system", Content: "You are a VCell BioModel Assistant, designed to help users understand and interact with biological models in VCell. Your task is to provide human-readable, accurate responses based on the given data. Give a response to the user's query, considering the provided biomodel information."},
		{Role: "user", Content: fmt.Sprintf("Here is some information about Biomodel %s: %s\n\n%s", biomodelID, stringifyResult(info), prompt)},
	}
	completion, err := a.generate(ctx, messages, nil, "")
	if err != nil {
		return fmt.Sprintf("An error occurred during AI analysis: %v", err)
	}
	return completion.Content
}

// AnalyseDiagram describes a biomodel's reaction diagram by sending the
// diagram image to a vision-capable model.
func (a *Agent) AnalyseDiagram(ctx context.Context, biomodelID string) string {
	info, err := a.vcell.SearchBiomodels(ctx, vcelldb.BiomodelSearchParams{BmID: biomodelID, MaxRows: 1})
	if err != nil {
		a.log.Error("diagram analysis failed", "biomodel", biomodelID, "error", err)
		return fmt.Sprintf("An error occurred during diagram analysis: %v", err)
	}

	prompt := "You are a VCell BioModel Assistant, designed to help users understand and interact with biological models in VCell. " +
		fmt.Sprintf("Here is some information about Biomodel %s: %s. ", biomodelID, stringifyResult(info)) +
		"Your task is to analyze the diagram of the biomodel and provide a concise description of its components, interactions, and any other relevant information."
	messages := []llms.Message{
		{Role: "user", Content: prompt, ImageURL: a.vcell.DiagramURL(biomodelID)},
	}
	completion, err := a.generate(ctx, messages, nil, "")
	if err != nil {
		return fmt.Sprintf("An error occurred during diagram analysis: %v", err)
	}
	return completion.Content
}

// ============================================================================
// KEY HARVESTING
// ============================================================================

// harvestBmKeys extracts the unique model keys from a biomodel-search tool
// result, returning nil for any other result shape.
func harvestBmKeys(result interface{}) []string {
	switch v := result.(type) {
	case *vcelldb.BiomodelSearchResult:
		return v.BmKeys
	case map[string]interface{}:
		raw, ok := v[bmKeysField].([]interface{})
		if !ok {
			return nil
		}
		keys := make([]string, 0, len(raw))
		for _, key := range raw {
			if s, ok := key.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

// unionKeys merges new keys into the accumulated set, deduplicating while
// preserving first-seen order. Repeated search calls within one loop extend
// the set instead of overwriting it.
func unionKeys(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, key := range existing {
		seen[key] = true
	}
	for _, key := range incoming {
		if !seen[key] {
			existing = append(existing, key)
			seen[key] = true
		}
	}
	return existing
}

func stringifyResult(result interface{}) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}
