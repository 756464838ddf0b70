package vectorstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const pineconeBackend = "pinecone"

// PineconeStore implements Adapter against the Pinecone index REST API.
// env.Server is the index endpoint (e.g. "https://my-index-abc.svc.us-east-1.pinecone.io").
type PineconeStore struct {
	client *http.Client
}

// NewPineconeStore creates a new Pinecone adapter. timeout bounds every remote call.
func NewPineconeStore(timeout time.Duration) *PineconeStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PineconeStore{
		client: &http.Client{Timeout: timeout},
	}
}

// run sends one request to the index endpoint and decodes the JSON response
// into out. Any non-2xx status or malformed body is surfaced as an adapter error.
func (s *PineconeStore) run(ctx context.Context, env *Env, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return backendError(pineconeBackend, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, env.Server+path, body)
	if err != nil {
		return backendError(pineconeBackend, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Api-Key", env.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return backendError(pineconeBackend, fmt.Errorf("failed to send request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &Error{Backend: pineconeBackend, Message: fmt.Sprintf("bad status %d: %s", resp.StatusCode, string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backendError(pineconeBackend, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []pineconeMatch `json:"matches"`
}

// ListVectors approximates a full listing, which Pinecone does not support,
// by querying with a constant probe vector and collecting the match ids.
func (s *PineconeStore) ListVectors(ctx context.Context, env *Env, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	payload := map[string]any{
		"topK":   limit + offset,
		"vector": probeVector(env),
	}
	if env.Namespace != "" {
		payload["namespace"] = env.Namespace
	}
	var res pineconeQueryResponse
	if err := s.run(ctx, env, http.MethodPost, "/query", payload, &res); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Matches))
	for _, match := range res.Matches {
		ids = append(ids, match.ID)
	}
	if offset >= len(ids) {
		return nil, nil
	}
	return ids[offset:], nil
}

// AddVector upserts one vector and returns its remote id. The upsert response
// must report at least one upserted vector, otherwise the call failed.
func (s *PineconeStore) AddVector(ctx context.Context, env *Env, record *Record) (string, error) {
	remoteID := record.ID
	if remoteID == "" {
		remoteID = randomHexID()
	}
	payload := map[string]any{
		"vectors": []pineconeVector{{
			ID:     remoteID,
			Values: record.Embedding,
			Metadata: map[string]any{
				"type":  record.Type,
				"title": record.Title,
				"model": record.Model,
			},
		}},
	}
	if env.Namespace != "" {
		payload["namespace"] = env.Namespace
	}
	var res struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	if err := s.run(ctx, env, http.MethodPost, "/vectors/upsert", payload, &res); err != nil {
		return "", err
	}
	if res.UpsertedCount <= 0 {
		return "", &Error{Backend: pineconeBackend, Message: "upsert response reported no upserted vectors"}
	}
	return remoteID, nil
}

// GetVector fetches one vector's metadata. Returns nil when not found.
func (s *PineconeStore) GetVector(ctx context.Context, env *Env, remoteID string) (*RemoteVector, error) {
	path := "/vectors/fetch?ids=" + url.QueryEscape(remoteID)
	if env.Namespace != "" {
		path += "&namespace=" + url.QueryEscape(env.Namespace)
	}
	var res struct {
		Vectors map[string]pineconeVector `json:"vectors"`
	}
	if err := s.run(ctx, env, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	vector, ok := res.Vectors[remoteID]
	if !ok {
		return nil, nil
	}
	return &RemoteVector{
		ID:      remoteID,
		Type:    stringMeta(vector.Metadata, "type", "manual"),
		Title:   stringMeta(vector.Metadata, "title", ""),
		Model:   stringMeta(vector.Metadata, "model", ""),
		Content: stringMeta(vector.Metadata, "content", ""),
		Values:  vector.Values,
	}, nil
}

// QueryVectors returns up to env.MaxSelect hits, descending score.
func (s *PineconeStore) QueryVectors(ctx context.Context, env *Env, embedding []float32) ([]Match, error) {
	payload := map[string]any{
		"topK":            env.EffectiveMaxSelect(),
		"vector":          embedding,
		"includeMetadata": true,
	}
	if env.Namespace != "" {
		payload["namespace"] = env.Namespace
	}
	var res pineconeQueryResponse
	if err := s.run(ctx, env, http.MethodPost, "/query", payload, &res); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(res.Matches))
	for _, match := range res.Matches {
		matches = append(matches, Match{
			ID:       match.ID,
			Score:    match.Score,
			Metadata: match.Metadata,
		})
	}
	return matches, nil
}

// DeleteVectors removes vectors by id, or everything when deleteAll is set.
// Pinecone treats deleting unknown ids as success, which matches the contract.
func (s *PineconeStore) DeleteVectors(ctx context.Context, env *Env, ids []string, deleteAll bool) error {
	if len(ids) == 0 && !deleteAll {
		return nil
	}
	payload := map[string]any{
		"deleteAll": deleteAll,
	}
	if !deleteAll {
		payload["ids"] = ids
	}
	if env.Namespace != "" {
		payload["namespace"] = env.Namespace
	}
	return s.run(ctx, env, http.MethodPost, "/vectors/delete", payload, nil)
}

// randomHexID generates a 64-character hex id for a new vector.
func randomHexID() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// probeVector is the constant vector used to approximate listing. A true zero
// vector has no direction under cosine distance, so a small epsilon is used.
func probeVector(env *Env) []float32 {
	dims := env.EmbeddingsDimensions
	if dims <= 0 {
		dims = 1536
	}
	probe := make([]float32, dims)
	for i := range probe {
		probe[i] = 0.0001
	}
	return probe
}
