package identity

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is an unexported type for context keys in this package. Using
// a package-private type means no other package can read or shadow the
// values this middleware stores.
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth enforces authentication on protected routes.
//
// The client sends the custom token it received from login or activation as
// a bearer credential:
//
//	Authorization: Bearer <token>
//
// The middleware verifies it against the provider (signature, expiry, and
// session revocation) and stores the UID in the request context. Missing or
// invalid tokens end the request with 401 before the handler runs.
func RequireAuth(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, err := extractUserID(r, p)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"unauthenticated","message":"valid authentication required"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext retrieves the authenticated UID stored by RequireAuth.
// Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func extractUserID(r *http.Request, p Provider) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrNotFound
	}
	return p.VerifyCustomToken(r.Context(), token)
}
