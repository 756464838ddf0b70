package syncer

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_source.go -package=mocks contextware/internal/syncer DocumentSource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Document is the raw source content a vector row is derived from.
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Excerpt  string `json:"excerpt"`
	Language string `json:"language"`
}

// DocumentSource resolves a document id to its current content. Returns
// (nil, nil) when the document no longer exists.
type DocumentSource interface {
	GetDocument(ctx context.Context, refID string) (*Document, error)
}

// HTTPSource fetches documents from a JSON endpoint (GET {base}/documents/{id}).
type HTTPSource struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewHTTPSource creates a document source backed by an HTTP content API.
func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// GetDocument fetches one document. A 404 means the document is gone and
// returns (nil, nil).
func (s *HTTPSource) GetDocument(ctx context.Context, refID string) (*Document, error) {
	endpoint := s.BaseURL + "/documents/" + url.PathEscape(refID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = refID
	}
	return &doc, nil
}
