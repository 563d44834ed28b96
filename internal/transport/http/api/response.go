// Package api holds shared JSON response helpers for the HTTP transport.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"psymetric/internal/platform/sentinel"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// JSON writes a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Warn("failed to encode response", "error", err)
		}
	}
}

// Fail writes a generic JSON error. Messages are deliberately terse: callers
// see no detail beyond the status class.
func Fail(w http.ResponseWriter, status int, message, requestID string) {
	JSON(w, status, errorBody{Error: message, RequestID: requestID})
}

// FromError maps domain sentinels to transport responses. Authorization
// failures collapse into generic 403/404 bodies with no detail leakage.
func FromError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		Fail(w, http.StatusNotFound, "not found", requestID)
	case errors.Is(err, sentinel.ErrForbidden):
		Fail(w, http.StatusForbidden, "forbidden", requestID)
	case errors.Is(err, sentinel.ErrConflict):
		Fail(w, http.StatusConflict, "conflict", requestID)
	case errors.Is(err, sentinel.ErrAuditWrite):
		Fail(w, http.StatusInternalServerError, "operation could not be audited", requestID)
	default:
		Fail(w, http.StatusInternalServerError, "internal error", requestID)
	}
}
