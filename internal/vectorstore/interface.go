package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_adapter.go -package=mocks contextware/internal/vectorstore Adapter

import (
	"context"
	"fmt"
)

// Env describes one configured vector database connection. Read-only to the
// adapters at query time; edited only through configuration.
type Env struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // qdrant | pinecone
	APIKey    string `json:"apikey"`
	Server    string `json:"server"`
	Collection string `json:"collection,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	// MinScore is a percentage threshold (default 35): hits scoring below
	// MinScore/100 are dropped during retrieval.
	MinScore float64 `json:"min_score"`
	// MaxSelect bounds the number of hits a similarity query may return (default 10).
	MaxSelect int `json:"max_select"`
	// Optional override of the embedding model/dimensionality for this environment.
	EmbeddingsModel      string `json:"embeddings_model,omitempty"`
	EmbeddingsDimensions int    `json:"embeddings_dimensions,omitempty"`
}

// EffectiveMinScore returns the configured threshold or the default of 35.
func (e *Env) EffectiveMinScore() float64 {
	if e.MinScore <= 0 {
		return 35
	}
	return e.MinScore
}

// EffectiveMaxSelect returns the configured hit bound or the default of 10.
func (e *Env) EffectiveMaxSelect() int {
	if e.MaxSelect <= 0 {
		return 10
	}
	return e.MaxSelect
}

// Record is the generic shape of a vector sent to a backend.
type Record struct {
	// ID is the remote id to upsert under. When set, backends overwrite the
	// existing vector with the same id (true upsert-by-key); when empty the
	// adapter generates a fresh id.
	ID        string
	Embedding []float32
	Type      string
	Title     string
	Model     string
}

// RemoteVector is the metadata a backend holds for one vector. Content is
// only present when a third party stored it in the vector's metadata; the
// adapters here never write it.
type RemoteVector struct {
	ID      string
	Type    string
	Title   string
	Model   string
	Content string
	Values  []float32
}

// Match is one ranked similarity hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Adapter is the uniform capability implemented once per vector database
// backend. All calls go over the network with a bounded timeout; any non-2xx
// or malformed response surfaces as an *Error carrying the backend name.
type Adapter interface {
	// ListVectors enumerates remote ids, best effort. Backends without a
	// native listing approximate it with a broad similarity query.
	ListVectors(ctx context.Context, env *Env, limit, offset int) ([]string, error)
	// AddVector upserts one vector and returns its remote id. On a
	// missing-collection error the adapter may provision the collection once
	// and retry exactly once before surfacing the error.
	AddVector(ctx context.Context, env *Env, record *Record) (string, error)
	// GetVector fetches one vector's metadata. Returns nil when not found.
	GetVector(ctx context.Context, env *Env, remoteID string) (*RemoteVector, error)
	// QueryVectors returns up to env.MaxSelect hits, descending score.
	QueryVectors(ctx context.Context, env *Env, embedding []float32) ([]Match, error)
	// DeleteVectors removes vectors by id, or everything when deleteAll is
	// set. Idempotent: deleting a nonexistent id is not an error.
	DeleteVectors(ctx context.Context, env *Env, ids []string, deleteAll bool) error
}

// Error is a typed adapter failure carrying the backend name for diagnostics.
type Error struct {
	Backend string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Backend)
	}
	return fmt.Sprintf("%v (%s)", e.Err, e.Backend)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// backendError wraps err as an adapter Error for the given backend.
func backendError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Err: err}
}
