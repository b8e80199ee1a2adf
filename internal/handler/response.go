// Package handler exposes the account lifecycle over HTTP.
//
// Every response uses one envelope, so clients branch on a single boolean:
//
//	success: {"success": true,  ...payload fields...}
//	failure: {"success": false, "error": "<code>", "message": "<human text>"}
//
// The error codes are the ones the mobile client has always consumed
// (not-found, already-exists, resource-exhausted, ...); writeError is the
// only place in the repo where the service-layer taxonomy meets HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/pathfit-backend/internal/apperror"
)

// envelope is the response body shape shared by every endpoint. Success
// payloads are merged into the top level next to "success".
type envelope map[string]any

// errorBody is the failure shape of the envelope.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response. Headers and status must be set before
// the first body write; once Encode writes, header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeSuccess sends the success envelope with the payload fields merged in.
func writeSuccess(w http.ResponseWriter, status int, payload envelope) {
	body := envelope{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeError maps a service-layer error to a status code and the failure
// envelope. The service layer never sees HTTP; this function is the whole
// translation.
//
// errors.Is walks the wrapped chain, so a service error like
// fmt.Errorf("logging in: %w", apperror.ResourceExhausted(...)) still maps
// to 429.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown error: a generic 500. The raw error may contain paths
		// or SQL and must never reach the client.
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "internal",
			Message: "an internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
		code = "invalid-argument"
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		code = "not-found"
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
		code = "already-exists"
	case errors.Is(err, apperror.ErrFailedPrecondition):
		status = http.StatusPreconditionFailed
		code = "failed-precondition"
	case errors.Is(err, apperror.ErrResourceExhausted):
		status = http.StatusTooManyRequests
		code = "resource-exhausted"
	case errors.Is(err, apperror.ErrUnauthenticated):
		status = http.StatusUnauthorized
		code = "unauthenticated"
	}

	writeJSON(w, status, errorBody{
		Error:   code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeBody parses a JSON request body into dst. A malformed body is the
// caller's fault, so the error is already a validation error.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("", "request body must be valid JSON")
	}
	return nil
}
