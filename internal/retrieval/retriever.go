package retrieval

import (
	"context"
	"strings"

	"contextware/internal/mirror"
	"contextware/internal/vectorstore"
)

// Retriever turns a user query into the context block injected ahead of it.
type Retriever struct {
	mirror *mirror.Mirror
}

// New creates a Retriever.
func New(m *mirror.Mirror) *Retriever {
	return &Retriever{mirror: m}
}

// Result is the assembled context for one query.
type Result struct {
	// Context is the joined content of the matching vectors, empty when
	// nothing relevant was found.
	Context string
	// Hits are the rows that contributed, best first.
	Hits []mirror.Hit
}

// Retrieve runs a semantic search for query and assembles the context block.
// Rows without content (orphans pulled from a remote store that never held
// the text) match by similarity but contribute nothing, so they are skipped.
func (r *Retriever) Retrieve(ctx context.Context, env *vectorstore.Env, query string) (*Result, error) {
	hits, err := r.mirror.Query(ctx, env, query)
	if err != nil {
		return nil, err
	}

	var parts []string
	var used []mirror.Hit
	for _, hit := range hits {
		content := strings.TrimSpace(hit.Record.Content)
		if content == "" {
			continue
		}
		parts = append(parts, content)
		used = append(used, hit)
	}
	return &Result{
		Context: strings.Join(parts, "\n\n"),
		Hits:    used,
	}, nil
}
