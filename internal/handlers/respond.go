package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"contextware/internal/contextutil"
	"contextware/internal/service"
	"contextware/internal/storage"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes payload as a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

// handleServiceError maps service errors to appropriate HTTP status codes and responses.
func handleServiceError(w http.ResponseWriter, ctx context.Context, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "service error", "error", err)

	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %s", validationErr.Error()))
		return
	}

	if errors.Is(err, service.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}

	if errors.Is(err, service.ErrExternalService) {
		writeError(w, http.StatusBadGateway, "External service error")
		return
	}

	writeError(w, http.StatusInternalServerError, defaultMsg)
}

// VectorJSON is the wire shape of one mirror row.
type VectorJSON struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Behavior   string  `json:"behavior"`
	Status     string  `json:"status"`
	EnvID      string  `json:"envId"`
	Model      string  `json:"model,omitempty"`
	Dimensions int     `json:"dimensions,omitempty"`
	RemoteID   string  `json:"remoteId,omitempty"`
	RefID      string  `json:"refId,omitempty"`
	Error      string  `json:"error,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Created    string  `json:"created"`
	Updated    string  `json:"updated"`
}

func toVectorJSON(record *storage.VectorRecord) VectorJSON {
	return VectorJSON{
		ID:         record.ID,
		Type:       record.Type,
		Title:      record.Title,
		Content:    record.Content,
		Behavior:   record.Behavior,
		Status:     record.Status,
		EnvID:      record.EnvID,
		Model:      record.Model,
		Dimensions: record.Dimensions,
		RemoteID:   record.RemoteID,
		RefID:      record.RefID,
		Error:      record.Error,
		Score:      record.Score,
		Created:    record.Created.UTC().Format(time.RFC3339),
		Updated:    record.Updated.UTC().Format(time.RFC3339),
	}
}

func toVectorList(records []*storage.VectorRecord) []VectorJSON {
	out := make([]VectorJSON, len(records))
	for i, record := range records {
		out[i] = toVectorJSON(record)
	}
	return out
}
