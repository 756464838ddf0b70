package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AssistantClient is a client for an OpenAI-compatible assistants API
// (threads, messages, runs, tool outputs, file content).
type AssistantClient struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewAssistantClient creates a new assistants API client.
func NewAssistantClient(baseURL, apiKey string) *AssistantClient {
	return &AssistantClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  http.DefaultClient,
	}
}

// Run is the remote state of one assistant run.
type Run struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	LastError      *RunError       `json:"last_error"`
	Tools          []Tool          `json:"tools"`
	RequiredAction *RequiredAction `json:"required_action"`
	Usage          *Usage          `json:"usage"`
}

// RunError is the remote-provided failure detail of a run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Tool is one tool declared on a run.
type Tool struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function,omitempty"`
}

// FunctionDef describes a callable function declared on a run.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// RequiredAction carries the pending tool calls of a run in requires_action.
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// ToolCall is one pending function invocation requested by the assistant.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ToolOutput is the result of one resolved tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ThreadMessage is one message of a thread, newest first in listings.
type ThreadMessage struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block of a thread message: text or a generated image.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      *TextBlock      `json:"text,omitempty"`
	ImageFile *ImageFileBlock `json:"image_file,omitempty"`
}

// TextBlock carries reply text plus inline citation annotations.
type TextBlock struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation references a sandbox-local file path inside reply text.
type Annotation struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	FilePath struct {
		FileID string `json:"file_id"`
	} `json:"file_path"`
}

// ImageFileBlock references a generated image file.
type ImageFileBlock struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path,omitempty"`
}

// execute sends one request to the assistants API and decodes the response into out.
func (c *AssistantClient) execute(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateThread creates a new thread tagged with the given metadata and
// returns its id.
func (c *AssistantClient) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	payload := map[string]any{
		"metadata": metadata,
		"messages": []any{},
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := c.execute(ctx, http.MethodPost, "/v1/threads", payload, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// CreateMessage posts a user message to a thread, optionally attaching files,
// and returns the message id.
func (c *AssistantClient) CreateMessage(ctx context.Context, threadID, content string, fileIDs []string) (string, error) {
	payload := map[string]any{
		"role":    "user",
		"content": content,
	}
	if len(fileIDs) > 0 {
		attachments := make([]map[string]any, 0, len(fileIDs))
		for _, fileID := range fileIDs {
			attachments = append(attachments, map[string]any{
				"file_id": fileID,
				"tools":   []map[string]string{{"type": "file_search"}},
			})
		}
		payload["attachments"] = attachments
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := c.execute(ctx, http.MethodPost, "/v1/threads/"+threadID+"/messages", payload, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// CreateRun starts a run of the assistant on a thread and returns the run id.
func (c *AssistantClient) CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (string, error) {
	payload := map[string]any{
		"assistant_id": assistantID,
	}
	if additionalInstructions != "" {
		payload["additional_instructions"] = additionalInstructions
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := c.execute(ctx, http.MethodPost, "/v1/threads/"+threadID+"/runs", payload, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// GetRun fetches the current state of a run.
func (c *AssistantClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	if err := c.execute(ctx, http.MethodGet, "/v1/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitToolOutputs submits the resolved tool call results back to a run.
func (c *AssistantClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	payload := map[string]any{
		"tool_outputs": outputs,
	}
	return c.execute(ctx, http.MethodPost, "/v1/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", payload, nil)
}

// ListMessages returns the messages of a thread, newest first.
func (c *AssistantClient) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var res struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := c.execute(ctx, http.MethodGet, "/v1/threads/"+threadID+"/messages", nil, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// DownloadFile retrieves the raw content of a generated file.
func (c *AssistantClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}
	return io.ReadAll(resp.Body)
}
