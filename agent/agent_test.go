package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/databases"
	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/tools"
	"github.com/vcell-ai/assistant/vcelldb"
)

// scriptedProvider returns queued completions and records every request's
// messages for inspection.
type scriptedProvider struct {
	completions []*llms.Completion
	calls       [][]llms.Message
	err         error
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, toolChoice string) (*llms.Completion, error) {
	snapshot := make([]llms.Message, len(messages))
	copy(snapshot, messages)
	p.calls = append(p.calls, snapshot)

	if p.err != nil {
		return nil, p.err
	}
	if len(p.completions) == 0 {
		return &llms.Completion{Content: "no script"}, nil
	}
	next := p.completions[0]
	p.completions = p.completions[1:]
	return next, nil
}

func (p *scriptedProvider) GetModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error         { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Dimension() int { return 3 }
func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (e stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func newTestAgent(t *testing.T, provider llms.Provider, handler http.Handler) *Agent {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := vcelldb.NewClientFromConfig(&config.VCellConfig{
		BaseURL:     server.URL,
		Timeout:     5,
		FileTimeout: 5,
		MaxRetries:  2,
		RetryDelay:  1,
	})

	kbConfig := &config.KnowledgeBaseConfig{
		Collection:   "knowledge_base",
		ChunkSize:    1000,
		ChunkOverlap: 200,
		DefaultLimit: 10,
	}
	kb := knowledge.NewService(databases.NewMemoryStore(), stubEmbedder{}, kbConfig)
	require.Equal(t, "success", kb.CreateCollection(context.Background()).Status)

	registry := tools.NewRegistry(client, kb, kbConfig)
	return New(provider, registry, client)
}

func calciumSearchHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/biomodel" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "calcium", r.URL.Query().Get("bmName"))
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"bmKey": "201844485", "name": "Calcium Dynamics in Neurons"},
			{"bmKey": "84982474", "name": "Calcium Spark Model"},
		})
	})
}

func TestConverseWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "Let me answer that directly."},
		{Content: "VCell is a modeling platform."},
	}}
	agent := newTestAgent(t, provider, http.NotFoundHandler())

	answer, bmkeys, err := agent.Converse(context.Background(), "What is VCell?")
	require.NoError(t, err)

	assert.Equal(t, "VCell is a modeling platform.", answer)
	assert.Empty(t, bmkeys)
	// A tool-free first turn still requests the final completion, so the
	// answer comes from the second response.
	require.Len(t, provider.calls, 2)

	second := provider.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[2].Role)
	assert.Equal(t, "Let me answer that directly.", second[2].Content)
	assert.Empty(t, second[2].ToolCalls)

	first := provider.calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, "system", first[0].Role)
	assert.Equal(t, "user", first[1].Role)
}

func TestConverseCalciumScenario(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{
			{ID: "call_1", Name: "fetch_biomodels", Arguments: map[string]interface{}{
				"bmName": "calcium", "category": "all",
			}},
		}},
		{Content: "I found Calcium Dynamics in Neurons and Calcium Spark Model."},
	}}
	agent := newTestAgent(t, provider, calciumSearchHandler(t))

	answer, bmkeys, err := agent.Converse(context.Background(), "List calcium models")
	require.NoError(t, err)

	assert.Contains(t, strings.ToLower(answer), "calcium dynamics")
	assert.Equal(t, []string{"201844485", "84982474"}, bmkeys)

	// Second request carries the assistant tool-call message plus one tool
	// result per call, in order.
	second := provider.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, "assistant", second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, "tool", second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Equal(t, "fetch_biomodels", second[3].Name)
	assert.Contains(t, second[3].Content, "201844485")
}

func TestConverseToolResultParity(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{
			{ID: "call_1", Name: "fetch_biomodels", Arguments: map[string]interface{}{"bmName": "calcium"}},
			{ID: "call_2", Name: "get_vcml_file", Arguments: map[string]interface{}{"biomodel_id": "201844485"}},
			{ID: "call_3", Name: "unknown_tool", Arguments: map[string]interface{}{}},
		}},
		{Content: "done"},
	}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/biomodel":
			json.NewEncoder(w).Encode([]map[string]interface{}{{"bmKey": "201844485", "name": "Calcium"}})
		case strings.HasSuffix(r.URL.Path, "biomodel.vcml"):
			w.Write([]byte("<vcml/>"))
		default:
			http.NotFound(w, r)
		}
	})
	agent := newTestAgent(t, provider, handler)

	_, _, err := agent.Converse(context.Background(), "analyse calcium model")
	require.NoError(t, err)

	second := provider.calls[1]
	toolMessages := make(map[string]llms.Message)
	for _, m := range second {
		if m.Role == "tool" {
			_, dup := toolMessages[m.ToolCallID]
			assert.False(t, dup, "duplicate tool result for %s", m.ToolCallID)
			toolMessages[m.ToolCallID] = m
		}
	}
	require.Len(t, toolMessages, 3)
	assert.Contains(t, toolMessages, "call_1")
	assert.Contains(t, toolMessages, "call_2")
	assert.Contains(t, toolMessages, "call_3")

	// The unknown tool degrades to an empty mapping result.
	assert.Equal(t, "{}", toolMessages["call_3"].Content)
}

func TestConverseBmKeysUnionAcrossCalls(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bmName") == "a" {
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"bmKey": "1", "name": "A"}, {"bmKey": "2", "name": "B"},
			})
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"bmKey": "2", "name": "B"}, {"bmKey": "3", "name": "C"},
		})
	})
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{
			{ID: "call_1", Name: "fetch_biomodels", Arguments: map[string]interface{}{"bmName": "a"}},
			{ID: "call_2", Name: "fetch_biomodels", Arguments: map[string]interface{}{"bmName": "b"}},
		}},
		{Content: "done"},
	}}
	agent := newTestAgent(t, provider, handler)

	_, bmkeys, err := agent.Converse(context.Background(), "search twice")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, bmkeys)
}

func TestConverseEmptyBmKeysWhenSearchUnused(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{
			{ID: "call_1", Name: "get_vcml_file", Arguments: map[string]interface{}{"biomodel_id": "123"}},
		}},
		{Content: "here is the vcml"},
	}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<vcml/>"))
	})
	agent := newTestAgent(t, provider, handler)

	_, bmkeys, err := agent.Converse(context.Background(), "get the vcml")
	require.NoError(t, err)
	assert.NotNil(t, bmkeys)
	assert.Empty(t, bmkeys)
}

func TestConverseLLMErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("connection refused")}
	agent := newTestAgent(t, provider, http.NotFoundHandler())

	_, _, err := agent.Converse(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAnalyseVCML(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "This model describes calcium release."},
	}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<vcml Name="CalciumModel"/>`))
	})
	agent := newTestAgent(t, provider, handler)

	analysis := agent.AnalyseVCML(context.Background(), "123")
	assert.Equal(t, "This model describes calcium release.", analysis)

	prompt := provider.calls[0][1].Content
	assert.Contains(t, prompt, "CalciumModel")
	assert.Contains(t, prompt, "Biomodel 123")
}

func TestAnalyseVCMLErrorFoldedIntoText(t *testing.T) {
	provider := &scriptedProvider{}
	agent := newTestAgent(t, provider, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	analysis := agent.AnalyseVCML(context.Background(), "nonexistent")
	assert.Contains(t, analysis, "An error occurred during VCML analysis")
	assert.Empty(t, provider.calls)
}

func TestAnalyseDiagramSendsImage(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "The diagram shows two compartments."},
	}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"bmKey": "123", "name": "Calcium"}})
	})
	agent := newTestAgent(t, provider, handler)

	analysis := agent.AnalyseDiagram(context.Background(), "123")
	assert.Equal(t, "The diagram shows two compartments.", analysis)

	msg := provider.calls[0][0]
	assert.Equal(t, "user", msg.Role)
	assert.Contains(t, msg.ImageURL, "/biomodel/123/diagram")
}
