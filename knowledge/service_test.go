package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/databases"
)

// wordEmbedder is a deterministic test embedder: the vector leans toward a
// fixed axis per known keyword so similarity ordering is predictable.
type wordEmbedder struct{}

func (wordEmbedder) Dimension() int { return 4 }

func (wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := []float32{0.01, 0.01, 0.01, 0.01}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "calcium") {
		v[0] = 1
	}
	if strings.Contains(lower, "transport") {
		v[1] = 1
	}
	if strings.Contains(lower, "neuron") {
		v[2] = 1
	}
	return v, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(databases.NewMemoryStore(), wordEmbedder{}, &config.KnowledgeBaseConfig{
		Collection:   "knowledge_base",
		ChunkSize:    1250,
		ChunkOverlap: 250,
		DefaultLimit: 10,
	})
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateCollectionIdempotent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	first := service.CreateCollection(ctx)
	assert.Equal(t, "success", first.Status)
	assert.Contains(t, first.Message, "created successfully")

	second := service.CreateCollection(ctx)
	assert.Equal(t, "success", second.Status)
	assert.Contains(t, second.Message, "already exists")
}

func TestIngestFileRoundTrip(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 150; i++ {
		b.WriteString("Calcium ions regulate many processes in neurons. ")
	}
	path := writeTestFile(t, "calcium.txt", b.String())

	result := service.IngestFile(ctx, path, "calcium.txt")
	require.Equal(t, "success", result.Status, result.Message)
	require.Greater(t, result.Chunks, 1)

	chunks, err := service.FileChunks(ctx, "calcium.txt")
	require.NoError(t, err)
	require.Len(t, chunks, result.Chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, result.Chunks, chunk.TotalChunks)
		assert.NotEmpty(t, chunk.ChunkText)
	}
}

func TestIngestEmptyFile(t *testing.T) {
	service := newTestService(t)
	path := writeTestFile(t, "empty.txt", "")

	result := service.IngestFile(context.Background(), path, "empty.txt")
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 0, result.Chunks)
	assert.Contains(t, result.Message, "0 chunks")
}

func TestIngestUnsupportedFormat(t *testing.T) {
	service := newTestService(t)
	path := writeTestFile(t, "model.bin", "binary")

	result := service.IngestFile(context.Background(), path, "model.bin")
	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Message, "unsupported")
}

func TestReingestAppendsChunks(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	path := writeTestFile(t, "doc.txt", "calcium signalling overview")

	require.Equal(t, "success", service.IngestFile(ctx, path, "doc.txt").Status)
	require.Equal(t, "success", service.IngestFile(ctx, path, "doc.txt").Status)

	chunks, err := service.FileChunks(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestDeleteFileRemovesAllChunks(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "keep.txt", "calcium dynamics"), "keep.txt").Status)
	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "drop.txt", "nuclear transport"), "drop.txt").Status)

	result := service.DeleteFile(ctx, "drop.txt")
	assert.Equal(t, "success", result.Status)

	files, err := service.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.txt", files[0].FileName)
}

func TestListFiles(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "b.txt", "transport of proteins"), "b.txt").Status)
	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "a.txt", "calcium in neurons"), "a.txt").Status)

	files, err := service.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].FileName)
	assert.Equal(t, "b.txt", files[1].FileName)
	assert.Equal(t, 1, files[0].Chunks)
	assert.Greater(t, files[0].Tokens, 0)
}

func TestSearchLimitValidation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Search(ctx, "calcium", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 100")

	_, err = service.Search(ctx, "calcium", -5)
	require.Error(t, err)

	_, err = service.Search(ctx, "calcium", 101)
	require.Error(t, err)

	_, err = service.Search(ctx, "", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestSearchRanksMatchingFileFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "calcium.txt", "calcium release in neurons"), "calcium.txt").Status)
	require.Equal(t, "success",
		service.IngestFile(ctx, writeTestFile(t, "transport.txt", "nuclear transport machinery"), "transport.txt").Status)

	hits, err := service.Search(ctx, "calcium signalling", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "calcium.txt", hits[0].FileName)
	assert.Contains(t, hits[0].ChunkText, "calcium")

	unrelated, err := service.Search(ctx, "completely different topic", 10)
	require.NoError(t, err)
	if len(unrelated) > 0 {
		assert.Less(t, unrelated[0].Score, hits[0].Score)
	}
}
