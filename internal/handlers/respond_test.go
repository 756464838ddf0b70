package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contextware/internal/service"
	"contextware/internal/storage"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation error",
			err:        &service.ValidationError{Field: "envId", Message: "unknown environment"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid input",
			err:        service.WrapError(service.ErrInvalidInput, "bad"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			err:        service.WrapError(service.ErrNotFound, "missing"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "external service",
			err:        service.WrapError(service.ErrExternalService, "backend down"),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unclassified error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			handleServiceError(w, context.Background(), tt.err, "default message")

			if w.Code != tt.wantStatus {
				t.Errorf("handleServiceError() status = %v, want %v", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if resp.Success {
				t.Error("handleServiceError() success = true, want false")
			}
			if resp.Error == "" {
				t.Error("handleServiceError() error message is empty")
			}
		})
	}
}

func TestToVectorJSON(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &storage.VectorRecord{
		ID:       7,
		Type:     storage.TypeManual,
		Title:    "Title",
		Content:  "Content",
		Status:   storage.StatusOK,
		EnvID:    "env-1",
		RemoteID: "r1",
		Score:    0.42,
		Created:  created,
		Updated:  created.Add(time.Hour),
	}

	got := toVectorJSON(record)

	if got.ID != 7 || got.Title != "Title" || got.RemoteID != "r1" || got.Score != 0.42 {
		t.Errorf("toVectorJSON() = %+v", got)
	}
	if got.Created != "2025-03-01T12:00:00Z" {
		t.Errorf("toVectorJSON() created = %q", got.Created)
	}
	if got.Updated != "2025-03-01T13:00:00Z" {
		t.Errorf("toVectorJSON() updated = %q", got.Updated)
	}
}
