// Package identity is the Identity Provider capability: durable accounts
// keyed by UID, credential verification, and short-lived custom tokens for
// session bootstrap.
//
// The document store holds the profile; this package holds the identity.
// Production deployments point the Provider interface at the managed
// identity platform; the sqlite adapter here implements the same contract
// for self-hosted use and for tests. Services only ever see the interface.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound: no account matches the email or UID.
	ErrNotFound = errors.New("identity: account not found")
	// ErrEmailExists: an account already holds this email.
	ErrEmailExists = errors.New("identity: email already registered")
	// ErrWrongPassword: credential mismatch.
	ErrWrongPassword = errors.New("identity: invalid password")
	// ErrTokenRevoked: the token predates a session revocation.
	ErrTokenRevoked = errors.New("identity: token revoked")
)

// Record is the provider's view of an account.
type Record struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	Disabled      bool
	CreatedAt     time.Time
}

// NewAccount is the input to CreateAccount. The password arrives already
// hashed: the registration flow hashes it when the pending document is
// written, and the stored hash is imported verbatim on activation.
type NewAccount struct {
	Email         string
	PasswordHash  string
	DisplayName   string
	EmailVerified bool
}

// Provider is the Identity Provider capability consumed by the services and
// the offline tools.
type Provider interface {
	// CreateAccount mints a new UID for the account. Fails with
	// ErrEmailExists if the email is taken.
	CreateAccount(ctx context.Context, acct NewAccount) (uid string, err error)
	// LookupByEmail resolves an account by normalized email.
	LookupByEmail(ctx context.Context, email string) (*Record, error)
	// LookupByUID resolves an account by its durable identifier.
	LookupByUID(ctx context.Context, uid string) (*Record, error)
	// VerifyPassword checks a presented password against the stored hash.
	// Returns ErrWrongPassword on mismatch, ErrNotFound for unknown UIDs.
	VerifyPassword(ctx context.Context, uid, password string) error
	// DeleteAccount removes the account. Deleting an absent account
	// returns ErrNotFound so callers can distinguish the already-gone case.
	DeleteAccount(ctx context.Context, uid string) error
	// ListAccounts pages through every account. Pass "" to start; a
	// returned empty next token means the listing is complete.
	ListAccounts(ctx context.Context, pageToken string, pageSize int) (records []Record, nextPageToken string, err error)
	// IssueCustomToken signs a short-lived credential for the UID, used by
	// the client to start a session immediately after login/activation.
	IssueCustomToken(ctx context.Context, uid string) (string, error)
	// VerifyCustomToken validates a presented token and returns the UID it
	// was issued for. Tokens issued before RevokeSessions fail with
	// ErrTokenRevoked.
	VerifyCustomToken(ctx context.Context, token string) (string, error)
	// RevokeSessions invalidates every token issued to the UID so far.
	RevokeSessions(ctx context.Context, uid string) error
}
