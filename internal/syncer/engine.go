package syncer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"contextware/internal/contextutil"
	"contextware/internal/mirror"
	"contextware/internal/storage"
	"contextware/internal/vectorstore"
)

// Options tunes the sync engine.
type Options struct {
	// Template renders the embedded text from a document. Empty means the
	// document body alone.
	Template string
	// LockTTL bounds how long one tick may hold the sync lock. Default 2m.
	LockTTL time.Duration
	// BatchSize is how many stale rows one tick advances. Default 1.
	BatchSize int
	// EmbedsPerSecond throttles embedding calls across a tick. Default 2.
	EmbedsPerSecond float64
}

// Engine keeps the vector mirror in step with its source documents. Document
// webhooks drive immediate syncs; a periodic tick sweeps up rows left
// pending or outdated by earlier failures.
type Engine struct {
	vectors  storage.VectorStore
	mirror   *mirror.Mirror
	source   DocumentSource
	template *Template
	envs     map[string]*vectorstore.Env
	syncEnvs []*vectorstore.Env
	lock     *TTLLock
	limiter  *rate.Limiter
	group    singleflight.Group
	batch    int
}

// NewEngine creates a sync engine over the given environments. Every
// environment is a sync target for document webhooks.
func NewEngine(vectors storage.VectorStore, m *mirror.Mirror, source DocumentSource, envs []*vectorstore.Env, opts Options) *Engine {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.EmbedsPerSecond <= 0 {
		opts.EmbedsPerSecond = 2
	}
	byID := make(map[string]*vectorstore.Env, len(envs))
	for _, env := range envs {
		byID[env.ID] = env
	}
	return &Engine{
		vectors:  vectors,
		mirror:   m,
		source:   source,
		template: NewTemplate(opts.Template),
		envs:     byID,
		syncEnvs: envs,
		lock:     NewTTLLock(opts.LockTTL),
		limiter:  rate.NewLimiter(rate.Limit(opts.EmbedsPerSecond), 1),
		batch:    opts.BatchSize,
	}
}

// Checksum fingerprints the embedded text of a document. Rows whose stored
// checksum matches are already in sync and are skipped.
func (e *Engine) Checksum(doc *Document) string {
	text := e.template.Render(&Document{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  CleanText(doc.Content),
		URL:      doc.URL,
		Excerpt:  doc.Excerpt,
		Language: doc.Language,
	})
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// OnDocumentSaved marks a saved document in every environment: missing rows
// are created pending, rows whose checksum no longer matches become
// outdated. The actual embedding is deferred to the tick, so the save path
// stays fast and remote load is throttled in one place. Per-env failures are
// logged and do not stop the remaining environments; the first failure is
// returned.
func (e *Engine) OnDocumentSaved(ctx context.Context, refID string) error {
	logger := contextutil.LoggerFromContext(ctx)
	var firstErr error
	for _, env := range e.syncEnvs {
		if err := e.markRef(ctx, env, refID); err != nil {
			logger.Error("failed to mark document", "ref_id", refID, "env", env.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// markRef records that a document changed without embedding it. The row ends
// up pending (new) or outdated (checksum mismatch) for the tick to pick up.
func (e *Engine) markRef(ctx context.Context, env *vectorstore.Env, refID string) error {
	records, doc, err := e.loadRef(ctx, env, refID)
	if err != nil {
		return err
	}
	if doc == nil {
		if len(records) == 1 {
			return e.mirror.Delete(ctx, env, []int64{records[0].ID}, true)
		}
		return nil
	}

	content := e.renderDocument(doc)
	if content == "" {
		return fmt.Errorf("document %s has no embeddable content", refID)
	}
	checksum := e.Checksum(doc)

	if len(records) == 0 {
		record := &storage.VectorRecord{
			Type:        storage.TypeDocument,
			Title:       doc.Title,
			Content:     content,
			RefID:       refID,
			RefChecksum: checksum,
		}
		return e.mirror.Add(ctx, env, record, true)
	}

	record := records[0]
	if record.RefChecksum == checksum && record.Status == storage.StatusOK {
		return nil
	}

	record.Title = doc.Title
	record.Content = content
	record.RefChecksum = checksum
	record.Status = storage.StatusOutdated
	return e.vectors.Update(ctx, record)
}

// OnDocumentDeleted removes a deleted document's vectors from every
// environment. The source is gone, so local rows are removed even when the
// remote delete fails.
func (e *Engine) OnDocumentDeleted(ctx context.Context, refID string) error {
	logger := contextutil.LoggerFromContext(ctx)
	var firstErr error
	for _, env := range e.syncEnvs {
		records, err := e.vectors.ListByRefID(ctx, refID, env.ID)
		if err == nil && len(records) > 0 {
			ids := make([]int64, len(records))
			for i, record := range records {
				ids[i] = record.ID
			}
			err = e.mirror.Delete(ctx, env, ids, true)
		}
		if err != nil {
			logger.Error("failed to delete document vectors", "ref_id", refID, "env", env.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// loadRef fetches a document and its mirror rows for one environment,
// enforcing the one-row-per-document invariant and the source guard.
func (e *Engine) loadRef(ctx context.Context, env *vectorstore.Env, refID string) ([]*storage.VectorRecord, *Document, error) {
	if e.source == nil {
		return nil, nil, fmt.Errorf("no document source configured")
	}
	records, err := e.vectors.ListByRefID(ctx, refID, env.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(records) > 1 {
		return nil, nil, fmt.Errorf("document %s has %d vectors in environment %s, expected at most one", refID, len(records), env.ID)
	}
	doc, err := e.source.GetDocument(ctx, refID)
	if err != nil {
		return nil, nil, err
	}
	return records, doc, nil
}

// renderDocument produces the embedded text of a document: cleaned body run
// through the content template.
func (e *Engine) renderDocument(doc *Document) string {
	return e.template.Render(&Document{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  CleanText(doc.Content),
		URL:      doc.URL,
		Excerpt:  doc.Excerpt,
		Language: doc.Language,
	})
}

// SyncRef brings one document's row in one environment up to date
// immediately: creates the row if missing, skips it when the checksum still
// matches, re-embeds it otherwise. This is the explicit on-demand sync; the
// document webhooks go through markRef and leave embedding to the tick. A
// document that maps to more than one row in the same environment is
// ambiguous and the sync aborts.
func (e *Engine) SyncRef(ctx context.Context, env *vectorstore.Env, refID string) error {
	records, doc, err := e.loadRef(ctx, env, refID)
	if err != nil {
		return err
	}
	if doc == nil {
		if len(records) == 1 {
			return e.mirror.Delete(ctx, env, []int64{records[0].ID}, true)
		}
		return nil
	}

	content := e.renderDocument(doc)
	if content == "" {
		return fmt.Errorf("document %s has no embeddable content", refID)
	}
	checksum := e.Checksum(doc)

	if len(records) == 0 {
		record := &storage.VectorRecord{
			Type:        storage.TypeDocument,
			Title:       doc.Title,
			Content:     content,
			RefID:       refID,
			RefChecksum: checksum,
		}
		return e.mirror.Add(ctx, env, record, false)
	}

	record := records[0]
	if record.RefChecksum == checksum && record.Status == storage.StatusOK {
		return nil
	}

	record.Title = doc.Title
	record.Content = content
	record.RefChecksum = checksum
	record.Status = storage.StatusProcessing
	if err := e.vectors.Update(ctx, record); err != nil {
		return err
	}
	e.mirror.Resync(ctx, env, record)
	return nil
}

// SyncVector advances one stale row. The pending/outdated to processing
// transition is a compare-and-swap, so two concurrent passes cannot embed
// the same row twice.
func (e *Engine) SyncVector(ctx context.Context, record *storage.VectorRecord) error {
	expected := record.Status
	if expected != storage.StatusPending && expected != storage.StatusOutdated {
		return nil
	}
	won, err := e.vectors.SetStatus(ctx, record.ID, expected, storage.StatusProcessing)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	env, ok := e.envs[record.EnvID]
	if !ok {
		return e.vectors.MarkError(ctx, record.ID, fmt.Sprintf("unknown environment %s", record.EnvID))
	}

	if record.RefID != "" {
		if e.source == nil {
			return e.vectors.MarkError(ctx, record.ID, "no document source configured")
		}
		doc, err := e.source.GetDocument(ctx, record.RefID)
		if err != nil {
			return e.vectors.MarkError(ctx, record.ID, err.Error())
		}
		if doc == nil {
			return e.mirror.Delete(ctx, env, []int64{record.ID}, true)
		}
		record.Title = doc.Title
		record.Content = e.renderDocument(doc)
		record.RefChecksum = e.Checksum(doc)
		record.Status = storage.StatusProcessing
		if err := e.vectors.Update(ctx, record); err != nil {
			return err
		}
	}

	e.mirror.Resync(ctx, env, record)
	return nil
}

// Tick runs one sweep over stale rows. Concurrent callers collapse into a
// single sweep, and the TTL lock keeps overlapping processes out; a tick
// that finds the lock held is a no-op. Returns how many rows were advanced.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	n, err, _ := e.group.Do("tick", func() (any, error) {
		if !e.lock.TryAcquire() {
			return 0, nil
		}
		defer e.lock.Release()

		records, err := e.vectors.ListStale(ctx, e.batch)
		if err != nil {
			return 0, err
		}
		processed := 0
		for _, record := range records {
			if err := e.limiter.Wait(ctx); err != nil {
				return processed, err
			}
			if err := e.SyncVector(ctx, record); err != nil {
				contextutil.LoggerFromContext(ctx).Error("failed to sync vector",
					"id", record.ID, "error", err)
				continue
			}
			processed++
		}
		return processed, nil
	})
	return n.(int), err
}

// Run ticks the engine at the given interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				contextutil.LoggerFromContext(ctx).Error("sync tick failed", "error", err)
			}
		}
	}
}
