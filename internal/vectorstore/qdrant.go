package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"contextware/internal/contextutil"
)

const qdrantBackend = "qdrant"

// QdrantStore implements Adapter using the official Qdrant client.
// Clients are created lazily per environment and reused.
type QdrantStore struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*qdrant.Client
}

// NewQdrantStore creates a new Qdrant adapter. timeout bounds every remote call.
func NewQdrantStore(timeout time.Duration) *QdrantStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		timeout: timeout,
		clients: make(map[string]*qdrant.Client),
	}
}

// client returns the cached client for env, creating it on first use.
// env.Server should be in the format "http://host:port" (e.g.
// "http://localhost:6333"); the gRPC port is derived from the HTTP port.
func (s *QdrantStore) client(env *Env) (*qdrant.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[env.ID]; ok {
		return client, nil
	}

	parsedURL, err := url.Parse(env.Server)
	if err != nil {
		return nil, backendError(qdrantBackend, fmt.Errorf("invalid server URL: %w", err))
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	// Default gRPC port; derived as HTTP port + 1 when a port is given.
	port := 6334
	if parsedURL.Port() != "" {
		if httpPort, err := strconv.Atoi(parsedURL.Port()); err == nil {
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: env.APIKey,
		UseTLS: parsedURL.Scheme == "https",
	})
	if err != nil {
		return nil, backendError(qdrantBackend, fmt.Errorf("failed to create client: %w", err))
	}

	s.clients[env.ID] = client
	return client, nil
}

// ListVectors enumerates remote ids via the scroll API. The scroll cursor is
// opaque, so the numeric offset is approximated by over-fetching and slicing.
func (s *QdrantStore) ListVectors(ctx context.Context, env *Env, limit, offset int) ([]string, error) {
	client, err := s.client(env)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	fetch := uint32(limit + offset)
	points, err := client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: env.Collection,
		Limit:          &fetch,
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, backendError(qdrantBackend, fmt.Errorf("failed to scroll points: %w", err))
	}

	ids := make([]string, 0, len(points))
	for _, point := range points {
		if point.Id != nil {
			ids = append(ids, point.Id.GetUuid())
		}
	}
	if offset >= len(ids) {
		return nil, nil
	}
	return ids[offset:], nil
}

// AddVector upserts one vector. On a missing-collection error the collection
// is created once (cosine distance, size taken from the embedding) and the
// upsert retried exactly once.
func (s *QdrantStore) AddVector(ctx context.Context, env *Env, record *Record) (string, error) {
	return s.addVector(ctx, env, record, true)
}

func (s *QdrantStore) addVector(ctx context.Context, env *Env, record *Record, tryCreateCollection bool) (string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	client, err := s.client(env)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remoteID := record.ID
	if remoteID == "" {
		remoteID = uuid.New().String()
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(remoteID),
		Vectors: qdrant.NewVectors(record.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":  record.Type,
			"title": record.Title,
			"model": record.Model,
		}),
	}

	_, err = client.Upsert(callCtx, &qdrant.UpsertPoints{
		CollectionName: env.Collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		if tryCreateCollection && isMissingCollection(err) {
			logger.InfoContext(ctx, "creating missing collection", "collection", env.Collection, "size", len(record.Embedding))
			if createErr := s.createCollection(ctx, client, env, len(record.Embedding)); createErr != nil {
				return "", createErr
			}
			return s.addVector(ctx, env, record, false)
		}
		return "", backendError(qdrantBackend, fmt.Errorf("failed to upsert point: %w", err))
	}
	return remoteID, nil
}

func isMissingCollection(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "Not found")
}

func (s *QdrantStore) createCollection(ctx context.Context, client *qdrant.Client, env *Env, size int) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: env.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return backendError(qdrantBackend, fmt.Errorf("failed to create collection: %w", err))
	}
	return nil
}

// GetVector fetches one vector's metadata. Returns nil when not found.
func (s *QdrantStore) GetVector(ctx context.Context, env *Env, remoteID string) (*RemoteVector, error) {
	client, err := s.client(env)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	points, err := client.Get(ctx, &qdrant.GetPoints{
		CollectionName: env.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(remoteID)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, backendError(qdrantBackend, fmt.Errorf("failed to get point: %w", err))
	}
	if len(points) == 0 {
		return nil, nil
	}

	point := points[0]
	meta := convertPayloadToMap(point.Payload)
	remote := &RemoteVector{
		ID:      remoteID,
		Type:    stringMeta(meta, "type", "manual"),
		Title:   stringMeta(meta, "title", ""),
		Model:   stringMeta(meta, "model", ""),
		Content: stringMeta(meta, "content", ""),
	}
	if vectors := point.Vectors.GetVector(); vectors != nil {
		remote.Values = vectors.Data
	}
	return remote, nil
}

// QueryVectors returns up to env.MaxSelect hits, descending score.
func (s *QdrantStore) QueryVectors(ctx context.Context, env *Env, embedding []float32) ([]Match, error) {
	client, err := s.client(env)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := uint64(env.EffectiveMaxSelect())
	scored, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: env.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, backendError(qdrantBackend, fmt.Errorf("failed to query points: %w", err))
	}

	matches := make([]Match, 0, len(scored))
	for _, result := range scored {
		id := ""
		if result.Id != nil {
			id = result.Id.GetUuid()
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    float64(result.Score),
			Metadata: convertPayloadToMap(result.Payload),
		})
	}
	return matches, nil
}

// DeleteVectors removes vectors by id, or everything when deleteAll is set.
// Deleting a nonexistent id is not an error.
func (s *QdrantStore) DeleteVectors(ctx context.Context, env *Env, ids []string, deleteAll bool) error {
	if len(ids) == 0 && !deleteAll {
		return nil
	}
	client, err := s.client(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var selector *qdrant.PointsSelector
	if deleteAll {
		// An empty filter matches every point.
		selector = qdrant.NewPointsSelectorFilter(&qdrant.Filter{})
	} else {
		pointIDs := make([]*qdrant.PointId, 0, len(ids))
		for _, id := range ids {
			pointIDs = append(pointIDs, qdrant.NewID(id))
		}
		selector = qdrant.NewPointsSelector(pointIDs...)
	}

	_, err = client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: env.Collection,
		Points:         selector,
	})
	if err != nil {
		return backendError(qdrantBackend, fmt.Errorf("failed to delete points: %w", err))
	}
	return nil
}

func stringMeta(meta map[string]any, key, fallback string) string {
	if value, ok := meta[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// convertPayloadToMap converts Qdrant payload to map[string]any.
func convertPayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to Go any type.
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
