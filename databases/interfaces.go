// Package databases provides vector store backends for the knowledge base.
package databases

import "context"

// ============================================================================
// VECTOR STORE INTERFACE
// ============================================================================

// SearchHit is a single similarity search result.
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Point is a stored vector point with its payload.
type Point struct {
	ID      string
	Payload map[string]interface{}
}

// VectorStore is the interface implemented by vector database backends.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	// Returns true when a new collection was created.
	EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error)

	// Upsert adds or updates a point.
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]interface{}) error

	// Search performs vector similarity search, best matches first.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchHit, error)

	// Scroll lists stored points without a query vector.
	Scroll(ctx context.Context, collection string, limit int) ([]Point, error)

	// DeleteByPayloadField removes all points whose payload field matches value.
	DeleteByPayloadField(ctx context.Context, collection string, field string, value string) error

	// Close releases the underlying connection.
	Close() error
}
