package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/fabrica/internal/batch"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps batch service errors onto HTTP status codes:
// ValidationError is a 400, InvalidStateError a 409, missing records a 404,
// everything else a 500.
func WriteServiceError(w http.ResponseWriter, err error) error {
	switch {
	case batch.IsValidationError(err):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case batch.IsInvalidStateError(err):
		return WriteError(w, http.StatusConflict, err.Error())
	case strings.Contains(err.Error(), "not found"):
		return WriteError(w, http.StatusNotFound, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// GetQueryInt parses an integer query parameter with a fallback.
func GetQueryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
