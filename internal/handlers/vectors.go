package handlers

import (
	"encoding/json"
	"net/http"

	"contextware/internal/contextutil"
	"contextware/internal/service"
	"contextware/internal/storage"
)

// VectorsHandler handles HTTP requests for vector mirror management.
type VectorsHandler struct {
	vectors *service.VectorService
}

// NewVectorsHandler creates a new VectorsHandler.
func NewVectorsHandler(vectors *service.VectorService) *VectorsHandler {
	return &VectorsHandler{vectors: vectors}
}

// ListRequest represents the HTTP request payload for listing vectors.
type ListRequest struct {
	EnvID  string `json:"envId"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Sort   *struct {
		Accessor string `json:"accessor"`
		By       string `json:"by"`
	} `json:"sort"`
}

// ListResponse represents the HTTP response payload for listing vectors.
type ListResponse struct {
	Success bool         `json:"success"`
	Total   int          `json:"total"`
	Vectors []VectorJSON `json:"vectors"`
}

// List handles POST /api/vectors/list.
func (h *VectorsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	q := storage.VectorQuery{
		EnvID:  req.EnvID,
		Type:   req.Type,
		Offset: req.Offset,
		Limit:  req.Limit,
	}
	if req.Sort != nil {
		q.Sort = &storage.Sort{Accessor: req.Sort.Accessor, By: req.Sort.By}
	}

	total, records, err := h.vectors.List(ctx, q)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list vectors")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Success: true, Total: total, Vectors: toVectorList(records)})
}

// AddRequest represents the HTTP request payload for adding a vector.
type AddRequest struct {
	EnvID     string `json:"envId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	LocalOnly bool   `json:"localOnly"`
}

// VectorResponse represents the HTTP response payload carrying one vector.
type VectorResponse struct {
	Success bool       `json:"success"`
	Vector  VectorJSON `json:"vector"`
}

// Add handles POST /api/vectors/add.
func (h *VectorsHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.vectors.Add(ctx, service.AddVectorRequest{
		EnvID:     req.EnvID,
		Title:     req.Title,
		Content:   req.Content,
		LocalOnly: req.LocalOnly,
	})
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to add vector")
		return
	}
	writeJSON(w, http.StatusOK, VectorResponse{Success: true, Vector: toVectorJSON(record)})
}

// AddFromRemoteRequest represents the HTTP request payload for importing a remote vector.
type AddFromRemoteRequest struct {
	EnvID    string `json:"envId"`
	RemoteID string `json:"remoteId"`
}

// AddFromRemote handles POST /api/vectors/add_from_remote.
func (h *VectorsHandler) AddFromRemote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddFromRemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.vectors.AddFromRemote(ctx, req.EnvID, req.RemoteID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to import remote vector")
		return
	}
	writeJSON(w, http.StatusOK, VectorResponse{Success: true, Vector: toVectorJSON(record)})
}

// RefRequest represents the HTTP request payload for looking up a document's vectors.
type RefRequest struct {
	RefID string `json:"refId"`
	EnvID string `json:"envId"`
}

// RefResponse represents the HTTP response payload for a document lookup.
type RefResponse struct {
	Success bool         `json:"success"`
	Vectors []VectorJSON `json:"vectors"`
}

// Ref handles POST /api/vectors/ref.
func (h *VectorsHandler) Ref(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	records, err := h.vectors.GetByRef(ctx, req.RefID, req.EnvID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to look up document vectors")
		return
	}
	writeJSON(w, http.StatusOK, RefResponse{Success: true, Vectors: toVectorList(records)})
}

// UpdateRequest represents the HTTP request payload for updating a vector.
type UpdateRequest struct {
	ID      int64  `json:"id"`
	EnvID   string `json:"envId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Update handles POST /api/vectors/update.
func (h *VectorsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.vectors.Update(ctx, service.UpdateVectorRequest{
		ID:      req.ID,
		EnvID:   req.EnvID,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to update vector")
		return
	}
	writeJSON(w, http.StatusOK, VectorResponse{Success: true, Vector: toVectorJSON(record)})
}

// SyncRequest represents the HTTP request payload for syncing a document.
type SyncRequest struct {
	EnvID string `json:"envId"`
	RefID string `json:"refId"`
}

// SuccessResponse represents a bare success acknowledgement.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Sync handles POST /api/vectors/sync.
func (h *VectorsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.vectors.SyncRef(ctx, req.EnvID, req.RefID); err != nil {
		handleServiceError(w, ctx, err, "Failed to sync document")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// DeleteRequest represents the HTTP request payload for deleting vectors.
type DeleteRequest struct {
	EnvID string  `json:"envId"`
	IDs   []int64 `json:"ids"`
	Force bool    `json:"force"`
}

// Delete handles POST /api/vectors/delete.
func (h *VectorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.vectors.Delete(ctx, req.EnvID, req.IDs, req.Force); err != nil {
		handleServiceError(w, ctx, err, "Failed to delete vectors")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// RemoteListRequest represents the HTTP request payload for listing remote vectors.
type RemoteListRequest struct {
	EnvID  string `json:"envId"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// RemoteListResponse represents the HTTP response payload for a remote listing.
type RemoteListResponse struct {
	Success bool     `json:"success"`
	IDs     []string `json:"ids"`
}

// RemoteList handles POST /api/vectors/remote_list.
func (h *VectorsHandler) RemoteList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req RemoteListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ids, err := h.vectors.RemoteList(ctx, req.EnvID, req.Limit, req.Offset)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list remote vectors")
		return
	}
	logger.InfoContext(ctx, "listed remote vectors", "env", req.EnvID, "count", len(ids))
	writeJSON(w, http.StatusOK, RemoteListResponse{Success: true, IDs: ids})
}
