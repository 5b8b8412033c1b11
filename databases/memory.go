package databases

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ============================================================================
// IN-MEMORY VECTOR STORE
// ============================================================================

// MemoryStore implements VectorStore with chromem-go. It keeps everything
// in process memory and is intended for tests and local development.
//
// chromem restricts metadata to string values and has no listing API, so the
// store keeps a side index of payloads per collection in insertion order.
type MemoryStore struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	order       map[string][]string
	payloads    map[string]map[string]map[string]interface{}
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		order:       make(map[string][]string),
		payloads:    make(map[string]map[string]map[string]interface{}),
	}
}

// identityEmbed satisfies chromem's embedding hook. All vectors are supplied
// pre-computed, so it must never be called with actual text.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested for raw text; vectors must be pre-computed")
}

// EnsureCollection creates the collection if it does not exist.
func (s *MemoryStore) EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; ok {
		return false, nil
	}
	col, err := s.db.GetOrCreateCollection(collection, nil, identityEmbed)
	if err != nil {
		return false, fmt.Errorf("failed to create collection %q: %w", collection, err)
	}
	s.collections[collection] = col
	s.payloads[collection] = make(map[string]map[string]interface{})
	return true, nil
}

func (s *MemoryStore) getCollection(collection string) (*chromem.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}
	return col, nil
}

// Upsert adds or updates a point.
func (s *MemoryStore) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]interface{}) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		metadata[k] = fmt.Sprint(v)
	}
	content, _ := payload["chunk_text"].(string)

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	s.mu.Lock()
	if _, seen := s.payloads[collection][id]; !seen {
		s.order[collection] = append(s.order[collection], id)
	}
	stored := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		stored[k] = v
	}
	s.payloads[collection][id] = stored
	s.mu.Unlock()
	return nil
}

// Search performs vector similarity search.
func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchHit, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection size.
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: s.payloads[collection][r.ID],
		})
	}
	return hits, nil
}

// Scroll lists stored points in insertion order.
func (s *MemoryStore) Scroll(ctx context.Context, collection string, limit int) ([]Point, error) {
	if _, err := s.getCollection(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var points []Point
	for _, id := range s.order[collection] {
		if len(points) >= limit {
			break
		}
		points = append(points, Point{ID: id, Payload: s.payloads[collection][id]})
	}
	return points, nil
}

// DeleteByPayloadField removes all points whose payload field matches value.
func (s *MemoryStore) DeleteByPayloadField(ctx context.Context, collection string, field string, value string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, map[string]string{field: value}, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[collection][:0]
	for _, id := range s.order[collection] {
		payload := s.payloads[collection][id]
		if fmt.Sprint(payload[field]) == value {
			delete(s.payloads[collection], id)
			continue
		}
		kept = append(kept, id)
	}
	s.order[collection] = kept
	return nil
}

// Close releases resources. A no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
