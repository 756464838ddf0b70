package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EmbeddingsClient is a client for an OpenAI-compatible embeddings API.
type EmbeddingsClient struct {
	BaseURL string
	APIKey  string
	// Model is the default embedding model, used when a call does not override it.
	Model  string
	client *http.Client
}

// NewEmbeddingsClient creates a new embeddings client.
func NewEmbeddingsClient(baseURL, apiKey, model string) *EmbeddingsClient {
	return &EmbeddingsClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// EmbeddingsRequest represents the request payload for the embeddings API.
type EmbeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// EmbedText generates an embedding for one text. model and dimensions may be
// empty/zero to use the client default and the model's native dimensionality;
// environments with an embeddings override pass their own values here. The
// effective model name is returned alongside the vector so callers can record it.
func (c *EmbeddingsClient) EmbedText(ctx context.Context, text, model string, dimensions int) ([]float32, string, error) {
	if text == "" {
		return nil, "", fmt.Errorf("empty input text")
	}
	if model == "" {
		model = c.Model
	}

	payload := EmbeddingsRequest{
		Model:      model,
		Input:      []string{text},
		Dimensions: dimensions,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var embeddingsResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingsResp); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embeddingsResp.Data) != 1 {
		return nil, "", fmt.Errorf("expected 1 embedding, got %d", len(embeddingsResp.Data))
	}
	data := embeddingsResp.Data[0]
	if dimensions > 0 && len(data.Embedding) != dimensions {
		return nil, "", fmt.Errorf("embedding has size %d, expected %d", len(data.Embedding), dimensions)
	}

	vec := make([]float32, len(data.Embedding))
	for i, v := range data.Embedding {
		vec[i] = float32(v)
	}
	return vec, model, nil
}
