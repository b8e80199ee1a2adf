package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is the lifetime of a custom token. It only needs to cover the
// window between a successful login/activation and the client exchanging it
// for a session.
const tokenTTL = time.Hour

const tokenIssuer = "pathfit-backend"

// TokenService signs and verifies the short-lived custom tokens the backend
// hands out after login and registration completion.
//
// HS256 with a shared secret: the same process signs and verifies, so a
// symmetric key is sufficient. The secret must be at least 16 characters;
// generate with `openssl rand -hex 32`.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity: token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims embeds jwt.RegisteredClaims; the UID travels in the Subject claim.
type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for the given UID.
func (s *TokenService) Generate(uid string) (string, error) {
	return s.GenerateWithDuration(uid, tokenTTL)
}

// GenerateWithDuration signs a token with a custom lifetime. Used in tests
// to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(uid string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("identity: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token, returning the UID it was issued for
// and its issue time. The issue time lets the provider enforce session
// revocation: tokens issued before the revocation cut are rejected.
//
// Pinning the algorithm to HS256 (jwt.WithValidMethods) defends against
// algorithm-confusion tokens.
func (s *TokenService) Validate(tokenStr string) (uid string, issuedAt time.Time, err error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("identity: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", time.Time{}, fmt.Errorf("identity: token expired")
		}
		return "", time.Time{}, fmt.Errorf("identity: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", time.Time{}, fmt.Errorf("identity: invalid token claims")
	}
	if c.Subject == "" {
		return "", time.Time{}, fmt.Errorf("identity: token has no subject")
	}

	return c.Subject, c.IssuedAt.Time, nil
}
