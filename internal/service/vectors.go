package service

import (
	"context"
	"errors"
	"fmt"

	"contextware/internal/mirror"
	"contextware/internal/storage"
	"contextware/internal/syncer"
	"contextware/internal/vectorstore"
)

// VectorService exposes the vector mirror's management operations: listing,
// manual add/update/delete, remote import and document sync.
type VectorService struct {
	vectors  storage.VectorStore
	mirror   *mirror.Mirror
	engine   *syncer.Engine
	registry *vectorstore.Registry
	envs     map[string]*vectorstore.Env
}

// NewVectorService creates a VectorService.
func NewVectorService(vectors storage.VectorStore, m *mirror.Mirror, engine *syncer.Engine, registry *vectorstore.Registry, envs []*vectorstore.Env) *VectorService {
	byID := make(map[string]*vectorstore.Env, len(envs))
	for _, env := range envs {
		byID[env.ID] = env
	}
	return &VectorService{
		vectors:  vectors,
		mirror:   m,
		engine:   engine,
		registry: registry,
		envs:     byID,
	}
}

// Env resolves an environment id, failing validation when it is unknown.
func (s *VectorService) Env(envID string) (*vectorstore.Env, error) {
	env, ok := s.envs[envID]
	if !ok {
		return nil, &ValidationError{Field: "envId", Message: "unknown environment " + envID}
	}
	return env, nil
}

// List returns a page of mirror rows plus the total count.
func (s *VectorService) List(ctx context.Context, q storage.VectorQuery) (int, []*storage.VectorRecord, error) {
	if q.EnvID != "" {
		if _, err := s.Env(q.EnvID); err != nil {
			return 0, nil, err
		}
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	total, records, err := s.vectors.Query(ctx, q)
	if err != nil {
		return 0, nil, WrapError(err, "failed to list vectors")
	}
	return total, records, nil
}

// AddVectorRequest describes one manual vector.
type AddVectorRequest struct {
	EnvID   string
	Title   string
	Content string
	// LocalOnly skips the remote upsert, leaving the row pending for the
	// sync engine.
	LocalOnly bool
}

// Add creates a manual vector and pushes it to the environment's backend.
func (s *VectorService) Add(ctx context.Context, req AddVectorRequest) (*storage.VectorRecord, error) {
	env, err := s.Env(req.EnvID)
	if err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, &ValidationError{Field: "content", Message: "cannot be empty"}
	}
	record := &storage.VectorRecord{
		Type:    storage.TypeManual,
		Title:   req.Title,
		Content: req.Content,
	}
	if err := s.mirror.Add(ctx, env, record, req.LocalOnly); err != nil {
		if errors.Is(err, mirror.ErrContentTooLong) {
			return nil, &ValidationError{Field: "content", Message: err.Error()}
		}
		return nil, WrapError(err, "failed to add vector")
	}
	return record, nil
}

// AddFromRemote imports one vector that exists only in the remote store.
func (s *VectorService) AddFromRemote(ctx context.Context, envID, remoteID string) (*storage.VectorRecord, error) {
	env, err := s.Env(envID)
	if err != nil {
		return nil, err
	}
	if remoteID == "" {
		return nil, &ValidationError{Field: "remoteId", Message: "cannot be empty"}
	}
	record, err := s.mirror.PullFromRemote(ctx, env, remoteID)
	if err != nil {
		return nil, WrapError(err, "failed to pull remote vector")
	}
	if record == nil {
		return nil, fmt.Errorf("remote vector %s: %w", remoteID, ErrNotFound)
	}
	return record, nil
}

// GetByRef returns the rows derived from one source document.
func (s *VectorService) GetByRef(ctx context.Context, refID, envID string) ([]*storage.VectorRecord, error) {
	if refID == "" {
		return nil, &ValidationError{Field: "refId", Message: "cannot be empty"}
	}
	records, err := s.vectors.ListByRefID(ctx, refID, envID)
	if err != nil {
		return nil, WrapError(err, "failed to list vectors by ref")
	}
	return records, nil
}

// UpdateVectorRequest describes an edit to one vector.
type UpdateVectorRequest struct {
	ID      int64
	EnvID   string
	Title   string
	Content string
}

// Update edits a vector, re-embedding it only when the content or
// environment changed.
func (s *VectorService) Update(ctx context.Context, req UpdateVectorRequest) (*storage.VectorRecord, error) {
	env, err := s.Env(req.EnvID)
	if err != nil {
		return nil, err
	}
	current, err := s.vectors.GetByID(ctx, req.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("vector %d: %w", req.ID, ErrNotFound)
	}
	if err != nil {
		return nil, WrapError(err, "failed to load vector")
	}

	// Moving a vector between environments strands its point in the old
	// backend; remove it there first. The remote delete is idempotent, so a
	// retried update is safe.
	if current.EnvID != env.ID && current.RemoteID != "" {
		if oldEnv, ok := s.envs[current.EnvID]; ok {
			if adapter, err := s.registry.For(oldEnv); err == nil {
				if err := adapter.DeleteVectors(ctx, oldEnv, []string{current.RemoteID}, false); err != nil {
					return nil, WrapError(err, "failed to remove vector from previous environment")
				}
			}
		}
	}

	current.Title = req.Title
	current.Content = req.Content
	if err := s.mirror.Update(ctx, env, current); err != nil {
		if errors.Is(err, mirror.ErrContentTooLong) {
			return nil, &ValidationError{Field: "content", Message: err.Error()}
		}
		return nil, WrapError(err, "failed to update vector")
	}
	return current, nil
}

// SyncRef re-syncs one source document into an environment on demand.
func (s *VectorService) SyncRef(ctx context.Context, envID, refID string) error {
	env, err := s.Env(envID)
	if err != nil {
		return err
	}
	if refID == "" {
		return &ValidationError{Field: "refId", Message: "cannot be empty"}
	}
	if err := s.engine.SyncRef(ctx, env, refID); err != nil {
		return WrapError(err, "failed to sync document")
	}
	return nil
}

// Delete removes vectors locally and remotely.
func (s *VectorService) Delete(ctx context.Context, envID string, ids []int64, force bool) error {
	env, err := s.Env(envID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return &ValidationError{Field: "ids", Message: "cannot be empty"}
	}
	if err := s.mirror.Delete(ctx, env, ids, force); err != nil {
		return WrapError(err, "failed to delete vectors")
	}
	return nil
}

// RemoteList enumerates vector ids held by the environment's backend.
func (s *VectorService) RemoteList(ctx context.Context, envID string, limit, offset int) ([]string, error) {
	env, err := s.Env(envID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.For(env)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ids, err := adapter.ListVectors(ctx, env, limit, offset)
	if err != nil {
		return nil, WrapError(err, "failed to list remote vectors")
	}
	return ids, nil
}
