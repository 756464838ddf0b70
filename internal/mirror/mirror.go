package mirror

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks contextware/internal/mirror Embedder

import (
	"context"
	"errors"
	"fmt"

	"contextware/internal/contextutil"
	"contextware/internal/storage"
	"contextware/internal/vectorstore"
)

// MaxContentLength bounds the stored content of one vector row.
const MaxContentLength = 65535

// ErrContentTooLong is returned when a vector's content exceeds MaxContentLength.
var ErrContentTooLong = fmt.Errorf("content exceeds %d characters", MaxContentLength)

// Embedder turns text into an embedding, returning the effective model name.
type Embedder interface {
	EmbedText(ctx context.Context, text, model string, dimensions int) ([]float32, string, error)
}

// Hit is one semantic search result: the mirror row plus its similarity score.
type Hit struct {
	Record *storage.VectorRecord
	Score  float64
}

// Mirror keeps the local vector rows and the remote vector store in step.
// Every mutation writes the local row first; the remote upsert follows, and
// its outcome lands back on the row as status ok or error.
type Mirror struct {
	vectors  storage.VectorStore
	registry *vectorstore.Registry
	embedder Embedder
}

// New creates a Mirror.
func New(vectors storage.VectorStore, registry *vectorstore.Registry, embedder Embedder) *Mirror {
	return &Mirror{vectors: vectors, registry: registry, embedder: embedder}
}

// Add inserts a new vector row and, unless localOnly is set, embeds its
// content and upserts it to the environment's backend. A failed remote sync
// does not fail the add: the row is kept with status error and retried later.
func (m *Mirror) Add(ctx context.Context, env *vectorstore.Env, record *storage.VectorRecord, localOnly bool) error {
	if record.Content == "" {
		return errors.New("content is required")
	}
	if len(record.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	if record.Type == "" {
		record.Type = storage.TypeManual
	}
	record.EnvID = env.ID
	if record.Status == "" {
		record.Status = storage.StatusPending
	}
	if err := m.vectors.Insert(ctx, record); err != nil {
		return err
	}
	if localOnly {
		return nil
	}

	m.sync(ctx, env, record)
	return nil
}

// Update rewrites a vector row. The remote vector is re-embedded and
// upserted only when the embedding could have drifted: the content changed,
// the environment or embedding settings changed, or the previous sync
// failed. A pure metadata edit touches only the local row.
func (m *Mirror) Update(ctx context.Context, env *vectorstore.Env, record *storage.VectorRecord) error {
	if record.Content == "" {
		return errors.New("content is required")
	}
	if len(record.Content) > MaxContentLength {
		return ErrContentTooLong
	}

	current, err := m.vectors.GetByID(ctx, record.ID)
	if err != nil {
		return err
	}

	envChanged := current.EnvID != env.ID ||
		(env.EmbeddingsModel != "" && current.Model != env.EmbeddingsModel) ||
		(env.EmbeddingsDimensions > 0 && current.Dimensions != env.EmbeddingsDimensions)
	needsEmbedding := current.Content != record.Content ||
		current.Status == storage.StatusError ||
		current.RemoteID == "" ||
		envChanged

	record.EnvID = env.ID
	record.RemoteID = current.RemoteID
	if record.Behavior == "" {
		record.Behavior = current.Behavior
	}

	if !needsEmbedding {
		record.Status = current.Status
		record.Model = current.Model
		record.Dimensions = current.Dimensions
		return m.vectors.Update(ctx, record)
	}

	// On an environment change the old vector lives in a different backend
	// or collection; remove it there before writing the new one.
	if envChanged && current.RemoteID != "" && current.EnvID != env.ID {
		record.RemoteID = ""
	}

	record.Status = storage.StatusProcessing
	if err := m.vectors.Update(ctx, record); err != nil {
		return err
	}
	m.sync(ctx, env, record)
	return nil
}

// Resync re-embeds an existing row and upserts it to env's backend. Used by
// the sync engine to advance stale rows; the outcome lands on the row.
func (m *Mirror) Resync(ctx context.Context, env *vectorstore.Env, record *storage.VectorRecord) {
	m.sync(ctx, env, record)
}

// sync embeds record's content and upserts it to env's backend, reusing the
// row's remote id so an existing remote vector is overwritten in place. The
// outcome is recorded on the row; sync never propagates the failure.
func (m *Mirror) sync(ctx context.Context, env *vectorstore.Env, record *storage.VectorRecord) {
	logger := contextutil.LoggerFromContext(ctx)

	embedding, model, err := m.embedder.EmbedText(ctx, record.Content, env.EmbeddingsModel, env.EmbeddingsDimensions)
	if err != nil {
		logger.Error("failed to embed vector content", "id", record.ID, "error", err)
		if dbErr := m.vectors.MarkError(ctx, record.ID, err.Error()); dbErr != nil {
			logger.Error("failed to record embed failure", "id", record.ID, "error", dbErr)
		}
		return
	}

	adapter, err := m.registry.For(env)
	if err != nil {
		logger.Error("no adapter for environment", "env", env.ID, "error", err)
		if dbErr := m.vectors.MarkError(ctx, record.ID, err.Error()); dbErr != nil {
			logger.Error("failed to record sync failure", "id", record.ID, "error", dbErr)
		}
		return
	}

	remoteID, err := adapter.AddVector(ctx, env, &vectorstore.Record{
		ID:        record.RemoteID,
		Embedding: embedding,
		Type:      record.Type,
		Title:     record.Title,
		Model:     model,
	})
	if err != nil {
		logger.Error("failed to upsert vector", "id", record.ID, "env", env.ID, "error", err)
		if dbErr := m.vectors.MarkError(ctx, record.ID, err.Error()); dbErr != nil {
			logger.Error("failed to record sync failure", "id", record.ID, "error", dbErr)
		}
		return
	}

	if err := m.vectors.MarkSynced(ctx, record.ID, remoteID, model, len(embedding)); err != nil {
		logger.Error("failed to mark vector synced", "id", record.ID, "error", err)
	}
}

// Delete removes vector rows and their remote counterparts. The remote
// delete runs first; if it fails the local rows are kept so the remote
// vectors stay discoverable, unless force is set.
func (m *Mirror) Delete(ctx context.Context, env *vectorstore.Env, ids []int64, force bool) error {
	if len(ids) == 0 {
		return nil
	}

	var remoteIDs []string
	for _, id := range ids {
		record, err := m.vectors.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if record.RemoteID != "" {
			remoteIDs = append(remoteIDs, record.RemoteID)
		}
	}

	if len(remoteIDs) > 0 {
		adapter, err := m.registry.For(env)
		if err != nil {
			if !force {
				return err
			}
		} else if err := adapter.DeleteVectors(ctx, env, remoteIDs, false); err != nil {
			if !force {
				return fmt.Errorf("failed to delete remote vectors: %w", err)
			}
			contextutil.LoggerFromContext(ctx).Warn("deleting local rows despite remote failure",
				"env", env.ID, "error", err)
		}
	}

	return m.vectors.Delete(ctx, ids)
}

// Query runs a semantic search: embed the query, rank against the remote
// store, drop hits below the environment's score threshold, then resolve
// each surviving hit to its mirror row. A hit with no local row is pulled
// from the remote store once, so the mirror heals itself as it is queried.
func (m *Mirror) Query(ctx context.Context, env *vectorstore.Env, query string) ([]Hit, error) {
	embedding, _, err := m.embedder.EmbedText(ctx, query, env.EmbeddingsModel, env.EmbeddingsDimensions)
	if err != nil {
		return nil, err
	}

	adapter, err := m.registry.For(env)
	if err != nil {
		return nil, err
	}
	matches, err := adapter.QueryVectors(ctx, env, embedding)
	if err != nil {
		return nil, err
	}

	minScore := env.EffectiveMinScore()
	var kept []vectorstore.Match
	var remoteIDs []string
	for _, match := range matches {
		if match.Score*100 < minScore {
			continue
		}
		kept = append(kept, match)
		remoteIDs = append(remoteIDs, match.ID)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	_, records, err := m.vectors.Query(ctx, storage.VectorQuery{EnvID: env.ID, RemoteIDs: remoteIDs})
	if err != nil {
		return nil, err
	}
	byRemote := make(map[string]*storage.VectorRecord, len(records))
	for _, record := range records {
		byRemote[record.RemoteID] = record
	}

	maxSelect := env.EffectiveMaxSelect()
	hits := make([]Hit, 0, len(kept))
	for _, match := range kept {
		record, ok := byRemote[match.ID]
		if !ok {
			record, err = m.PullFromRemote(ctx, env, match.ID)
			if err != nil {
				contextutil.LoggerFromContext(ctx).Warn("failed to pull remote vector",
					"remote_id", match.ID, "env", env.ID, "error", err)
				continue
			}
			if record == nil {
				continue
			}
		}
		record.Score = match.Score
		hits = append(hits, Hit{Record: record, Score: match.Score})
		if len(hits) >= maxSelect {
			break
		}
	}
	return hits, nil
}

// PullFromRemote imports one remote vector into the mirror. Third-party
// writers sometimes store the content in the vector's metadata; when it is
// absent the row is kept as an orphan, visible in listings but never
// injected as context. Returns nil when the remote vector does not exist.
func (m *Mirror) PullFromRemote(ctx context.Context, env *vectorstore.Env, remoteID string) (*storage.VectorRecord, error) {
	if record, err := m.vectors.GetByRemoteID(ctx, remoteID); err == nil {
		return record, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	adapter, err := m.registry.For(env)
	if err != nil {
		return nil, err
	}
	remote, err := adapter.GetVector(ctx, env, remoteID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}

	record := &storage.VectorRecord{
		Type:       storage.TypeImported,
		Title:      remote.Title,
		Content:    remote.Content,
		Status:     storage.StatusOK,
		EnvID:      env.ID,
		Model:      remote.Model,
		Dimensions: len(remote.Values),
		RemoteID:   remote.ID,
	}
	if remote.Type != "" {
		record.Type = remote.Type
	}
	if record.Title == "" {
		record.Title = remote.ID
	}
	if record.Content == "" {
		record.Status = storage.StatusOrphan
	}
	if err := m.vectors.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
