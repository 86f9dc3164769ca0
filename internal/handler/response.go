package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// success shape and one error shape:
//   {"error": "capacity_exceeded", "message": "provider p1 has no remaining capacity"}
//
// The service layer knows nothing about HTTP. It returns apperror values and
// writeError maps them to status codes here.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/care-assign/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input field, when known
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set afterwards is ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already on the wire; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error kind to its HTTP status and error type.
var errorStatus = []struct {
	err       error
	status    int
	errorType string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrInvalidCoordinate, http.StatusBadRequest, "invalid_coordinate"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
	{apperror.ErrDuplicateActive, http.StatusConflict, "duplicate_active_assignment"},
	{apperror.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrNoEligibleProvider, http.StatusUnprocessableEntity, "no_eligible_provider"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.As extracts the *AppError for its message; errors.Is walks the
// Unwrap chain to find the sentinel, so wrapped errors map the same way.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorStatus {
			if errors.Is(err, m.err) {
				writeJSON(w, m.status, ErrorResponse{
					Error:   m.errorType,
					Message: appErr.Message,
					Field:   appErr.Field,
				})
				return
			}
		}
	}

	// Never expose internal error details; they can contain SQL or file paths.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// WriteAuthError renders auth middleware rejections in the API's error shape.
// It satisfies auth.ErrorWriter.
func WriteAuthError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
