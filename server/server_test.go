package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcell-ai/assistant/agent"
	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/databases"
	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/tools"
	"github.com/vcell-ai/assistant/vcelldb"
)

type scriptedProvider struct {
	completions []*llms.Completion
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, toolChoice string) (*llms.Completion, error) {
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

func newTestServer(t *testing.T, provider llms.Provider, upstream http.Handler) *Server {
	t.Helper()
	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	backend := httptest.NewServer(upstream)
	t.Cleanup(backend.Close)

	client := vcelldb.NewClientFromConfig(&config.VCellConfig{
		BaseURL:     backend.URL,
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
	registry := tools.NewRegistry(client, kb, kbConfig)
	a := agent.New(provider, registry, client)

	return New(a, kb, client, &config.ServerConfig{Address: ":0"})
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestQueryReturnsResponseAndKeys(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "Answering directly."},
		{Content: "VCell is a modeling platform."},
	}}
	s := newTestServer(t, provider, nil)

	rec := doRequest(t, s, http.MethodPost, "/query",
		[]byte(`{"user_prompt": "What is VCell?"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "VCell is a modeling platform.", body["response"])
	keys, ok := body["bmkeys"].([]interface{})
	require.True(t, ok, "bmkeys must serialize as a list, got %T", body["bmkeys"])
	assert.Empty(t, keys)
}

func TestQueryRequiresPrompt(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/query", []byte(`{"user_prompt": "  "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/query", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryPrefersConversationHistory(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "Reading the history."},
		{Content: "Continuing the conversation."},
	}}
	s := newTestServer(t, provider, nil)

	rec := doRequest(t, s, http.MethodPost, "/query",
		[]byte(`{"conversation_history": "User: hi\nAssistant: hello\nUser: more"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Continuing the conversation.", decodeBody(t, rec)["response"])
}

func TestAnalyseVCML(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/biomodel/123/biomodel.vcml", r.URL.Path)
		fmt.Fprint(w, "<vcml><BioModel Name=\"CalciumModel\"/></vcml>")
	})
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "The model describes calcium dynamics."},
	}}
	s := newTestServer(t, provider, upstream)

	rec := doRequest(t, s, http.MethodPost, "/analyse/123/vcml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The model describes calcium dynamics.", decodeBody(t, rec)["response"])
}

func TestAnalyseBiomodelRequiresPrompt(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)
	rec := doRequest(t, s, http.MethodPost, "/analyse/123", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCollectionIdempotent(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/knowledge-base/create-collection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "created successfully")

	rec = doRequest(t, s, http.MethodPost, "/knowledge-base/create-collection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "already exists")
}

func uploadRequest(t *testing.T, target, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadTextAndQueryChunks(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	req := uploadRequest(t, "/knowledge-base/upload-text", "calcium.txt",
		"Calcium signaling regulates many cellular processes.")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["message"], "calcium.txt uploaded with 1 chunks.")

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decodeBody(t, rec)["files"].([]interface{})
	require.Len(t, files, 1)
	assert.Equal(t, "calcium.txt", files[0].(map[string]interface{})["file_name"])

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/files/calcium.txt/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chunks := decodeBody(t, rec)["chunks"].([]interface{})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].(map[string]interface{})["chunk_text"], "Calcium signaling")
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	req := uploadRequest(t, "/knowledge-base/upload-text", "notes.docx", "content")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = uploadRequest(t, "/knowledge-base/upload-pdf", "notes.txt", "content")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteFileRemovesChunks(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	req := uploadRequest(t, "/knowledge-base/upload-text", "notes.txt", "Some notes about ion channels.")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/knowledge-base/files/notes.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/files/notes.txt/chunks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimilarValidation(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)
	doRequest(t, s, http.MethodPost, "/knowledge-base/create-collection", nil)

	rec := doRequest(t, s, http.MethodGet, "/knowledge-base/similar?query=calcium&limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/similar?query=calcium&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/similar?limit=5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/knowledge-base/similar?query=calcium", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := decodeBody(t, rec)["results"]
	assert.True(t, ok)
}

func TestSearchBiomodelsProxy(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/biomodel", r.URL.Path)
		assert.Equal(t, "calcium", r.URL.Query().Get("bmName"))
		assert.Equal(t, "5", r.URL.Query().Get("maxRows"))
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"bmKey": "201844485", "name": "Calcium Dynamics"},
		})
	})
	s := newTestServer(t, &scriptedProvider{}, upstream)

	rec := doRequest(t, s, http.MethodGet, "/biomodel?bmName=calcium&maxRows=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["models_count"])
	keys := body["unique_model_keys (bmkey)"].([]interface{})
	assert.Equal(t, []interface{}{"201844485"}, keys)
}

func TestVCMLNotFoundMapsTo404(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, http.NotFoundHandler())

	rec := doRequest(t, s, http.MethodGet, "/biomodel/999/biomodel.vcml", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVCMLTruncateQuery(t *testing.T) {
	long := strings.Repeat("x", 2*vcelldb.TruncateChars)
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, long)
	})
	s := newTestServer(t, &scriptedProvider{}, upstream)

	rec := doRequest(t, s, http.MethodGet, "/biomodel/123/biomodel.vcml?truncate=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.String(), vcelldb.TruncateChars)

	rec = doRequest(t, s, http.MethodGet, "/biomodel/123/biomodel.vcml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.String(), 2*vcelldb.TruncateChars)
}

func TestDiagramEndpoints(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/biomodel/123/diagram", r.URL.Path)
		w.Write(png)
	})
	s := newTestServer(t, &scriptedProvider{}, upstream)

	rec := doRequest(t, s, http.MethodGet, "/biomodel/123/diagram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["diagram_url"], "/biomodel/123/diagram")

	rec = doRequest(t, s, http.MethodGet, "/biomodel/123/diagram/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestPublicationsProxy(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/publications", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"title": "Calcium dynamics in dendritic spines", "pubmedid": "12345"},
		})
	})
	s := newTestServer(t, &scriptedProvider{}, upstream)

	rec := doRequest(t, s, http.MethodGet, "/publications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pubs := decodeBody(t, rec)["publications"].([]interface{})
	require.Len(t, pubs, 1)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
