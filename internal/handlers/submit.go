package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"contextware/internal/contextutil"
	"contextware/internal/llm"
	"contextware/internal/service"
)

// SubmitHandler handles HTTP requests for augmented queries.
type SubmitHandler struct {
	submit *service.SubmitService
}

// NewSubmitHandler creates a new SubmitHandler.
func NewSubmitHandler(submit *service.SubmitService) *SubmitHandler {
	return &SubmitHandler{submit: submit}
}

// SubmitRequest represents the HTTP request payload for a query.
type SubmitRequest struct {
	BotID        string            `json:"botId"`
	ChatID       string            `json:"chatId"`
	Message      string            `json:"message"`
	Template     string            `json:"template"`
	Fields       map[string]string `json:"fields"`
	EnvID        string            `json:"envId"`
	AssistantID  string            `json:"assistantId"`
	FileID       string            `json:"fileId"`
	FilePurpose  string            `json:"filePurpose"`
	Instructions string            `json:"instructions"`
	Model        string            `json:"model"`
	MaxTokens    int               `json:"maxTokens"`
	Temperature  float64           `json:"temperature"`
	UserID       string            `json:"userId"`
	Session      string            `json:"session"`
}

// SubmitResponse represents the HTTP response payload for a query.
type SubmitResponse struct {
	Success  bool       `json:"success"`
	Reply    string     `json:"reply"`
	ThreadID string     `json:"threadId,omitempty"`
	Usage    *llm.Usage `json:"usage,omitempty"`
}

// ServeHTTP handles POST /api/submit. With ?stream=true the reply streams
// as Server-Sent Events; assistant runs always answer buffered.
func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	svcReq := service.SubmitRequest{
		BotID:        req.BotID,
		ChatID:       req.ChatID,
		Message:      req.Message,
		Template:     req.Template,
		Fields:       req.Fields,
		EnvID:        req.EnvID,
		AssistantID:  req.AssistantID,
		FileID:       req.FileID,
		FilePurpose:  req.FilePurpose,
		Instructions: req.Instructions,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		UserID:       req.UserID,
		Session:      req.Session,
	}

	if r.URL.Query().Get("stream") == "true" && req.AssistantID == "" {
		h.handleStreaming(w, r, svcReq)
		return
	}

	resp, err := h.submit.Submit(ctx, svcReq)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to process query")
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:  true,
		Reply:    resp.Reply,
		ThreadID: resp.ThreadID,
		Usage:    resp.Usage,
	})
}

// handleStreaming streams the reply using Server-Sent Events.
func (h *SubmitHandler) handleStreaming(w http.ResponseWriter, r *http.Request, req service.SubmitRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	err := h.submit.StreamSubmit(ctx, req, func(chunk string) error {
		_, err := fmt.Fprintf(w, "data: %s\n\n", chunk)
		if err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "error streaming reply", "error", err)
		_, _ = fmt.Fprintf(w, "data: {\"error\":\"%s\"}\n\n", err.Error())
		flusher.Flush()
		return
	}

	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
