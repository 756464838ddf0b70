package handlers

import (
	"encoding/json"
	"net/http"

	"contextware/internal/contextutil"
	"contextware/internal/syncer"
)

// DocumentsHandler handles source document webhooks.
type DocumentsHandler struct {
	engine *syncer.Engine
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(engine *syncer.Engine) *DocumentsHandler {
	return &DocumentsHandler{engine: engine}
}

// DocumentEventRequest represents the webhook payload for a document event.
type DocumentEventRequest struct {
	RefID string `json:"refId"`
}

// Saved handles POST /api/documents/saved.
func (h *DocumentsHandler) Saved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req DocumentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.engine.OnDocumentSaved(ctx, req.RefID); err != nil {
		logger.ErrorContext(ctx, "document save sync failed", "ref_id", req.RefID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to sync document")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Deleted handles POST /api/documents/deleted.
func (h *DocumentsHandler) Deleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req DocumentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.engine.OnDocumentDeleted(ctx, req.RefID); err != nil {
		logger.ErrorContext(ctx, "document delete sync failed", "ref_id", req.RefID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to remove document vectors")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
