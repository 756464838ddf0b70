package retrieval

import (
	"context"
	"testing"

	"contextware/internal/mirror"
	"contextware/internal/storage"
	"contextware/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(_ context.Context, _, model string, _ int) ([]float32, string, error) {
	return []float32{0.1}, model, nil
}

type fakeAdapter struct {
	matches []vectorstore.Match
}

func (f *fakeAdapter) ListVectors(context.Context, *vectorstore.Env, int, int) ([]string, error) {
	return nil, nil
}

func (f *fakeAdapter) AddVector(context.Context, *vectorstore.Env, *vectorstore.Record) (string, error) {
	return "", nil
}

func (f *fakeAdapter) GetVector(context.Context, *vectorstore.Env, string) (*vectorstore.RemoteVector, error) {
	return nil, nil
}

func (f *fakeAdapter) QueryVectors(context.Context, *vectorstore.Env, []float32) ([]vectorstore.Match, error) {
	return f.matches, nil
}

func (f *fakeAdapter) DeleteVectors(context.Context, *vectorstore.Env, []string, bool) error {
	return nil
}

func TestRetriever_Retrieve(t *testing.T) {
	db, err := storage.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := storage.NewVectorRepo(db)
	ctx := context.Background()
	env := &vectorstore.Env{ID: "env-1", Type: "fake"}

	adapter := &fakeAdapter{}
	rows := []struct {
		remoteID string
		content  string
		status   string
		score    float64
	}{
		{"r1", "First fact.", storage.StatusOK, 0.9},
		{"r2", "", storage.StatusOrphan, 0.8}, // orphan: matches but contributes nothing
		{"r3", "Second fact.", storage.StatusOK, 0.7},
	}
	for _, row := range rows {
		record := &storage.VectorRecord{
			Type: storage.TypeManual, Content: row.content, Status: row.status,
			EnvID: env.ID, RemoteID: row.remoteID,
		}
		if err := repo.Insert(ctx, record); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		adapter.matches = append(adapter.matches, vectorstore.Match{ID: row.remoteID, Score: row.score})
	}

	registry := vectorstore.NewRegistry(map[string]vectorstore.Adapter{"fake": adapter})
	retriever := New(mirror.New(repo, registry, fakeEmbedder{}))

	result, err := retriever.Retrieve(ctx, env, "question")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Context != "First fact.\n\nSecond fact." {
		t.Errorf("context = %q", result.Context)
	}
	if len(result.Hits) != 2 {
		t.Errorf("hits = %d, want 2", len(result.Hits))
	}
}

func TestRetriever_NothingRelevant(t *testing.T) {
	db, err := storage.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := storage.NewVectorRepo(db)

	adapter := &fakeAdapter{matches: []vectorstore.Match{{ID: "low", Score: 0.1}}}
	registry := vectorstore.NewRegistry(map[string]vectorstore.Adapter{"fake": adapter})
	retriever := New(mirror.New(repo, registry, fakeEmbedder{}))

	result, err := retriever.Retrieve(context.Background(), &vectorstore.Env{ID: "env-1", Type: "fake"}, "question")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Context != "" {
		t.Errorf("context = %q, want empty", result.Context)
	}
}
