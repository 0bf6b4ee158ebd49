package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

// StatusHandler serves version, health, and application status endpoints.
type StatusHandler struct {
	config    *common.Config
	storage   interfaces.BatchStorage
	logger    arbor.ILogger
	startedAt time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(config *common.Config, storage interfaces.BatchStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		config:    config,
		storage:   storage,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HealthHandler returns a liveness response
// GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionHandler returns build information
// GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// GetStatusHandler returns application status including stored batch counts
// GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	count, err := h.storage.CountBatches(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count batches")
		WriteError(w, http.StatusInternalServerError, "failed to read storage")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": h.config.Environment,
		"version":     common.GetVersion(),
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"batches":     count,
	})
}
