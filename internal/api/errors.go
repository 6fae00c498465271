package api

import (
	"encoding/json"
	"net/http"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps a service error onto the wire. Categorized
// errors carry their own status code and safe message; anything else
// degrades to an opaque 500.
func respondServiceError(w http.ResponseWriter, err error) {
	categorized := errors.Categorize(err)
	if categorized.Category == errors.CategorySystem && categorized.Cause != nil {
		// Never leak internals from uncategorized failures
		respondError(w, http.StatusInternalServerError, categorized.Code, "An internal error occurred", nil)
		return
	}
	respondError(w, categorized.StatusCode, categorized.Code, categorized.Message, categorized.Details)
}
