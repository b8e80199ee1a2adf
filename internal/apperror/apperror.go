// Package apperror defines the error taxonomy shared by every operation in
// the backend.
//
// The service layer returns these errors; the HTTP layer maps them to status
// codes and the callable-result envelope. Using sentinel errors plus a typed
// wrapper keeps the mapping in exactly one place (handler/response.go) while
// letting services attach human-readable messages.
//
// The taxonomy mirrors the error codes the mobile client already understands:
//
//	ErrValidation         → invalid-argument (malformed input, bad/expired code, wrong credential)
//	ErrNotFound           → not-found
//	ErrConflict           → already-exists (duplicate email/account)
//	ErrFailedPrecondition → failed-precondition (wrong lifecycle state for the transition)
//	ErrResourceExhausted  → resource-exhausted (lockout, resend quota)
//	ErrUnauthenticated    → unauthenticated (caller identity required but absent)
//	ErrInternal           → internal (unexpected provider/store failure)
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid argument")
	ErrConflict           = errors.New("already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInternal           = errors.New("internal error")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// FailedPrecondition signals that the account is in the wrong lifecycle state
// for the requested transition (e.g. login on an unverified account).
func FailedPrecondition(message string) *AppError {
	return &AppError{
		Err:     ErrFailedPrecondition,
		Message: message,
	}
}

// ResourceExhausted signals a policy quota hit: login lockout, resend limit.
func ResourceExhausted(message string) *AppError {
	return &AppError{
		Err:     ErrResourceExhausted,
		Message: message,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Internal wraps an unexpected provider/store failure. The cause is preserved
// for logging via Unwrap; the message is what the client is allowed to see.
func Internal(message string, cause error) *AppError {
	err := ErrInternal
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrInternal, cause)
	}
	return &AppError{
		Err:     err,
		Message: message,
	}
}
