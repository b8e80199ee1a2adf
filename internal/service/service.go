// Package service contains the business logic layer: the account lifecycle
// state machine (pending → active), the login/lockout policy, and full
// account teardown.
//
// Services sit between the HTTP handlers and the platform capabilities:
//
//	Handler (HTTP)  →  Service (policy)  →  docstore.Store / identity.Provider / mail.Relay
//
// Services never touch HTTP and handlers never touch storage. Every service
// takes its dependencies through its constructor, including a clock, so the
// time-based policies (code expiry, lockout windows, streaks) are testable
// without sleeping.
package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// emailRegex is the same permissive shape the clients validate against:
// something, an @, something, a dot, something.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail canonicalizes an email for use as a lookup key: trimmed
// and lowercased. Every read and write of the email field goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// generateCode draws a 6-digit verification code uniformly from
// [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("service: generating verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// sameCalendarDay reports whether a and b fall on the same calendar day in
// b's location. The streak is a calendar concept, not a 24-hour one, and
// stored timestamps round-trip as UTC while the clock runs in server-local
// time, so a must be re-anchored before its date is read.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
