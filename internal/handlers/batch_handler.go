package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// BatchHandler handles batch-related API requests
type BatchHandler struct {
	service interfaces.BatchService
	logger  arbor.ILogger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(service interfaces.BatchService, logger arbor.ILogger) *BatchHandler {
	return &BatchHandler{
		service: service,
		logger:  logger,
	}
}

// CreateBatchHandler creates a batch without starting it
// POST /api/batches
func (h *BatchHandler) CreateBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	task, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Batch creation rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, &models.CreateBatchResponse{
		BatchID:       task.ID,
		TotalSubtasks: task.TotalSubtasks,
	})
}

// ListBatchesHandler returns batches filtered by query parameters
// GET /api/batches?limit=50&offset=0&status=running
func (h *BatchHandler) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := &interfaces.BatchListOptions{
		Status:   r.URL.Query().Get("status"),
		Limit:    GetQueryInt(r, "limit", 50),
		Offset:   GetQueryInt(r, "offset", 0),
		OrderBy:  r.URL.Query().Get("order_by"),
		OrderDir: r.URL.Query().Get("order_dir"),
	}

	batches, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list batches")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// StartBatchHandler begins execution of a pending batch
// POST /api/batches/{id}/start
func (h *BatchHandler) StartBatchHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.service.Start(r.Context(), batchID); err != nil {
		h.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch start rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":   "started",
		"batch_id": batchID,
	})
}

// CancelBatchHandler cooperatively cancels a batch. The response is written
// once every in-flight worker has observed the cancellation.
// POST /api/batches/{id}/cancel
func (h *BatchHandler) CancelBatchHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.service.Cancel(r.Context(), batchID); err != nil {
		h.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch cancel rejected")
		WriteServiceError(w, err)
		return
	}

	WriteSuccess(w, "batch cancelled")
}

// GetBatchProgressHandler returns the batch with all its subtasks
// GET /api/batches/{id}
func (h *BatchHandler) GetBatchProgressHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	progress, err := h.service.GetProgress(r.Context(), batchID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, progress)
}

// UpdateSubTaskHandler is the out-of-band progress channel, e.g. for a
// provider webhook. Terminal updates are idempotent.
// PUT /api/batches/{id}/subtasks/{subtaskId}
func (h *BatchHandler) UpdateSubTaskHandler(w http.ResponseWriter, r *http.Request, batchID, subTaskID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update models.SubTaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.service.UpdateSubTaskProgress(r.Context(), batchID, subTaskID, &update); err != nil {
		h.logger.Warn().
			Err(err).
			Str("batch_id", batchID).
			Str("subtask_id", subTaskID).
			Msg("Subtask update rejected")
		WriteServiceError(w, err)
		return
	}

	WriteSuccess(w, "subtask updated")
}
