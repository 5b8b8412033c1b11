package databases

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/vcell-ai/assistant/config"
)

// ============================================================================
// QDRANT VECTOR STORE
// ============================================================================

// QdrantStore implements VectorStore backed by a Qdrant server.
type QdrantStore struct {
	client *qdrant.Client
	config *config.QdrantConfig
}

// NewQdrantStoreFromConfig creates a Qdrant-backed vector store from config.
func NewQdrantStoreFromConfig(cfg *config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, config: cfg}, nil
}

// EnsureCollection creates the collection if it does not exist. Concurrent
// creation races are tolerated and reported as not-created.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if exists {
		return false, nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return false, nil
		}
		return false, fmt.Errorf("failed to create collection: %w", err)
	}
	return true, nil
}

// Upsert adds or updates a point.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]interface{}) error {
	qdrantPayload := make(map[string]*qdrant.Value)
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		qdrantPayload[key] = val
	}

	pointID := qdrant.NewID(id)
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		pointID = qdrant.NewIDNum(n)
	}
	point := &qdrant.PointStruct{
		Id:      pointID,
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrantPayload,
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Search performs vector similarity search.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchHit, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	pointsClient := s.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]SearchHit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		hits = append(hits, SearchHit{
			ID:      pointIDString(point.Id),
			Score:   point.Score,
			Payload: convertPayload(point.Payload),
		})
	}
	return hits, nil
}

// Scroll lists stored points, following pagination until limit is reached.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, limit int) ([]Point, error) {
	pointsClient := s.client.GetPointsClient()

	var points []Point
	var offset *qdrant.PointId
	for len(points) < limit {
		pageLimit := uint32(limit - len(points))
		resp, err := pointsClient.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          &pageLimit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}
		for _, p := range resp.Result {
			points = append(points, Point{
				ID:      pointIDString(p.Id),
				Payload: convertPayload(p.Payload),
			})
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			break
		}
		offset = resp.NextPageOffset
	}
	return points, nil
}

// DeleteByPayloadField removes all points whose payload field matches value.
func (s *QdrantStore) DeleteByPayloadField(ctx context.Context, collection string, field string, value string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: field,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: value},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points by %s: %w", field, err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ============================================================================
// CONVERSION HELPERS
// ============================================================================

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

func convertPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	result := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		result[key] = convertValue(value)
	}
	return result
}

func convertValue(value *qdrant.Value) interface{} {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		return convertPayload(v.StructValue.Fields)
	}
	return nil
}
