package knowledge

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/databases"
	"github.com/vcell-ai/assistant/embedders"
	"github.com/vcell-ai/assistant/logger"
	"github.com/vcell-ai/assistant/metrics"
)

// scrollPageSize bounds a whole-collection listing.
const scrollPageSize = 10000

// ============================================================================
// RESULT TYPES
// ============================================================================

// OpResult is the tagged outcome of a knowledge base operation. Operations
// report failures through the status field instead of raising so a partial
// pipeline failure never aborts the caller.
type OpResult struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message"`
	Chunks  int    `json:"chunks,omitempty"`
}

// SearchHit is one ranked retrieval result.
type SearchHit struct {
	Score     float32 `json:"score"`
	FileName  string  `json:"file_name"`
	ChunkText string  `json:"chunk_text"`
}

// FileInfo summarizes one ingested file.
type FileInfo struct {
	FileName string `json:"file_name"`
	Chunks   int    `json:"chunks"`
	Tokens   int    `json:"tokens"`
}

// FileChunk is one stored chunk of a file.
type FileChunk struct {
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	ChunkText   string `json:"chunk_text"`
}

// ============================================================================
// SERVICE
// ============================================================================

// Service ties together text extraction, chunking, embedding and the vector
// store. Construct once and share across requests.
type Service struct {
	store        databases.VectorStore
	embedder     embedders.Embedder
	chunker      *Chunker
	collection   string
	defaultLimit int
	log          *slog.Logger
}

// NewService creates a knowledge base service.
func NewService(store databases.VectorStore, embedder embedders.Embedder, cfg *config.KnowledgeBaseConfig) *Service {
	return &Service{
		store:        store,
		embedder:     embedder,
		chunker:      NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		collection:   cfg.Collection,
		defaultLimit: cfg.DefaultLimit,
		log:          logger.With("knowledge"),
	}
}

// Collection returns the collection name the service writes to.
func (s *Service) Collection() string {
	return s.collection
}

// DefaultLimit returns the search result limit used when a caller does not
// ask for one.
func (s *Service) DefaultLimit() int {
	return s.defaultLimit
}

// CreateCollection idempotently creates the vector collection. A second call
// reports that the collection already exists, never an error.
func (s *Service) CreateCollection(ctx context.Context) *OpResult {
	created, err := s.store.EnsureCollection(ctx, s.collection, s.embedder.Dimension())
	if err != nil {
		return &OpResult{Status: "error", Message: err.Error()}
	}
	if !created {
		return &OpResult{Status: "success", Message: s.collection + " already exists."}
	}
	return &OpResult{Status: "success", Message: s.collection + " created successfully."}
}

// IngestFile extracts, chunks, embeds and stores a file. It always returns a
// tagged result and never raises; an empty file is a zero-chunk success.
// Re-ingesting the same file name appends new chunks without removing the
// old ones.
func (s *Service) IngestFile(ctx context.Context, path string, fileName string) *OpResult {
	if result := s.CreateCollection(ctx); result.Status != "success" {
		return result
	}

	text, err := ExtractText(ctx, path, fileName)
	if err != nil {
		return &OpResult{Status: "error", Message: fmt.Sprintf("failed to extract text from %s: %v", fileName, err)}
	}

	chunks := s.chunker.Chunk(text)
	for _, chunk := range chunks {
		vector, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return &OpResult{Status: "error", Message: fmt.Sprintf("failed to embed chunk %d of %s: %v", chunk.Index, fileName, err)}
		}

		payload := map[string]interface{}{
			"file_name":    fileName,
			"chunk_text":   chunk.Text,
			"chunk_index":  chunk.Index,
			"total_chunks": chunk.Total,
		}
		if err := s.store.Upsert(ctx, s.collection, newPointID(), vector, payload); err != nil {
			return &OpResult{Status: "error", Message: fmt.Sprintf("failed to store chunk %d of %s: %v", chunk.Index, fileName, err)}
		}
		metrics.ChunksIngested.Inc()
	}

	s.log.Info("file ingested", "file", fileName, "chunks", len(chunks))
	return &OpResult{
		Status:  "success",
		Message: fmt.Sprintf("%s uploaded with %d chunks.", fileName, len(chunks)),
		Chunks:  len(chunks),
	}
}

// DeleteFile removes all chunks belonging to a file name.
func (s *Service) DeleteFile(ctx context.Context, fileName string) *OpResult {
	if err := s.store.DeleteByPayloadField(ctx, s.collection, "file_name", fileName); err != nil {
		return &OpResult{Status: "error", Message: err.Error()}
	}
	s.log.Info("file deleted", "file", fileName)
	return &OpResult{Status: "success", Message: fileName + " deleted successfully."}
}

// ListFiles groups all stored chunks by file name.
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	points, err := s.store.Scroll(ctx, s.collection, scrollPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge base files: %w", err)
	}

	byFile := make(map[string]*FileInfo)
	for _, point := range points {
		fileName, _ := point.Payload["file_name"].(string)
		if fileName == "" {
			continue
		}
		info, ok := byFile[fileName]
		if !ok {
			info = &FileInfo{FileName: fileName}
			byFile[fileName] = info
		}
		info.Chunks++
		if text, ok := point.Payload["chunk_text"].(string); ok {
			info.Tokens += CountTokens(text)
		}
	}

	files := make([]FileInfo, 0, len(byFile))
	for _, info := range byFile {
		files = append(files, *info)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

// FileChunks returns all chunks of one file, sorted ascending by chunk index.
func (s *Service) FileChunks(ctx context.Context, fileName string) ([]FileChunk, error) {
	points, err := s.store.Scroll(ctx, s.collection, scrollPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks for %s: %w", fileName, err)
	}

	chunks := make([]FileChunk, 0)
	for _, point := range points {
		if name, _ := point.Payload["file_name"].(string); name != fileName {
			continue
		}
		chunks = append(chunks, FileChunk{
			ChunkIndex:  intField(point.Payload, "chunk_index"),
			TotalChunks: intField(point.Payload, "total_chunks"),
			ChunkText:   fmt.Sprint(point.Payload["chunk_text"]),
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// Search embeds the query and returns the most similar chunks. The limit
// must be between 1 and 100; validation happens before any store call.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit < 1 || limit > 100 {
		return nil, fmt.Errorf("limit must be between 1 and 100, got %d", limit)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	stored, err := s.store.Search(ctx, s.collection, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(stored))
	for _, hit := range stored {
		fileName, _ := hit.Payload["file_name"].(string)
		chunkText, _ := hit.Payload["chunk_text"].(string)
		hits = append(hits, SearchHit{
			Score:     hit.Score,
			FileName:  fileName,
			ChunkText: chunkText,
		})
	}
	return hits, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// newPointID generates a fresh numeric point id, unrelated to chunk order.
func newPointID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) >> 1
	return strconv.FormatUint(n, 10)
}

func intField(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
