package handler

import (
	"encoding/json"
	"net/http"

	"github.com/simonlevelai/askeve-core/internal/middleware"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response. The correlation ID is included
// so callers can quote it when reporting a problem.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := map[string]string{"error": message}
	if id := middleware.GetCorrelationID(r.Context()); id != "" {
		body["correlation_id"] = id
	}
	writeJSON(w, status, body)
}
