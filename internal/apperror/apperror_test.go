package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
	}{
		{"not found", NotFound("no pending registration found"), ErrNotFound},
		{"validation", ValidationFailed("email", "invalid email format"), ErrValidation},
		{"conflict", Conflict("email already registered"), ErrConflict},
		{"failed precondition", FailedPrecondition("account not verified"), ErrFailedPrecondition},
		{"resource exhausted", ResourceExhausted("too many resend attempts"), ErrResourceExhausted},
		{"unauthenticated", Unauthenticated("sign in required"), ErrUnauthenticated},
		{"internal", Internal("something broke", errors.New("boom")), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

func TestSentinelMatchingThroughWrapping(t *testing.T) {
	// Services wrap AppErrors with fmt.Errorf("...: %w", err); the sentinel
	// must still be reachable through the chain.
	inner := ResourceExhausted("account temporarily locked")
	outer := fmt.Errorf("login: %w", inner)

	if !errors.Is(outer, ErrResourceExhausted) {
		t.Error("wrapped AppError lost its sentinel")
	}

	var appErr *AppError
	if !errors.As(outer, &appErr) {
		t.Fatal("errors.As failed to recover *AppError")
	}
	if appErr.Message != "account temporarily locked" {
		t.Errorf("Message = %q, want %q", appErr.Message, "account temporarily locked")
	}
}

func TestInternalPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("failed to login", cause)

	if !errors.Is(err, cause) {
		t.Error("Internal() did not preserve the cause in the chain")
	}
	if err.Error() != "failed to login" {
		t.Errorf("Error() = %q, the cause must not leak into the message", err.Error())
	}
}

func TestInternalNilCause(t *testing.T) {
	err := Internal("failed", nil)
	if !errors.Is(err, ErrInternal) {
		t.Error("Internal(nil) should still match ErrInternal")
	}
}
