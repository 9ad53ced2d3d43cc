// Package handler provides HTTP handlers for the ops server.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/operator-relay/internal/middleware"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response tagged with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:         message,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}
