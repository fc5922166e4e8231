package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"joy-journal/internal/apperrors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondServiceError maps a service error onto its status code. Provider
// errors carry a message meant for the user; everything else is reported as is.
func respondServiceError(w http.ResponseWriter, err error) {
	message := err.Error()
	var perr *apperrors.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		message = perr.Message
	}
	respondError(w, message, apperrors.HTTPStatus(err))
}

// respondJSON sends v as a JSON body
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondDecodeError reports a body that could not be decoded
func respondDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	respondError(w, "Invalid request body", http.StatusBadRequest)
}
