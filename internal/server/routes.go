package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Batches
	mux.HandleFunc("/api/batches", s.handleBatchesRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/batches/", s.handleBatchRoutes) // /{id}, /{id}/start, /{id}/cancel, /{id}/subtasks/{subtaskId}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return mux
}

// handleBatchesRoute dispatches the collection endpoint by method
func (s *Server) handleBatchesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.BatchHandler.ListBatchesHandler(w, r)
	case http.MethodPost:
		s.app.BatchHandler.CreateBatchHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBatchRoutes routes batch-scoped requests to the appropriate handler
func (s *Server) handleBatchRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	if path == "" {
		http.Error(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	parts := strings.Split(path, "/")
	batchID := parts[0]

	switch {
	case len(parts) == 1:
		// GET /api/batches/{id}
		s.app.BatchHandler.GetBatchProgressHandler(w, r, batchID)

	case len(parts) == 2 && parts[1] == "start":
		// POST /api/batches/{id}/start
		s.app.BatchHandler.StartBatchHandler(w, r, batchID)

	case len(parts) == 2 && parts[1] == "cancel":
		// POST /api/batches/{id}/cancel
		s.app.BatchHandler.CancelBatchHandler(w, r, batchID)

	case len(parts) == 3 && parts[1] == "subtasks":
		// PUT /api/batches/{id}/subtasks/{subtaskId}
		s.app.BatchHandler.UpdateSubTaskHandler(w, r, batchID, parts[2])

	case len(parts) == 4 && parts[1] == "subtasks" && parts[3] == "progress":
		// POST /api/batches/{id}/subtasks/{subtaskId}/progress
		s.app.BatchHandler.UpdateSubTaskHandler(w, r, batchID, parts[2])

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
