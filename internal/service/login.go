package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/pathfit-backend/internal/apperror"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
)

// LoginPolicy is the brute-force lockout policy.
type LoginPolicy struct {
	// MaxAttempts is the number of consecutive failed logins before the
	// account locks.
	MaxAttempts int
	// LockoutWindow is how long the lock holds after the last failed
	// attempt.
	LockoutWindow time.Duration
}

// DefaultLoginPolicy mirrors the production configuration defaults.
func DefaultLoginPolicy() LoginPolicy {
	return LoginPolicy{MaxAttempts: 5, LockoutWindow: 15 * time.Minute}
}

// LoginService authenticates active accounts and maintains their login
// statistics: attempt counters for the lockout policy and the daily streak.
type LoginService struct {
	docs   docstore.Store
	idp    identity.Provider
	policy LoginPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewLoginService(docs docstore.Store, idp identity.Provider, policy LoginPolicy, logger *slog.Logger) *LoginService {
	return &LoginService{
		docs:   docs,
		idp:    idp,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// LoginResult carries everything the client needs after a successful login.
type LoginResult struct {
	UID         string
	CustomToken string
	Account     *model.Account
}

// Login checks the credential against the identity provider and updates the
// account's login sub-state in the same serializable transaction that read
// it, so concurrent attempts cannot lose counter increments.
//
// An unknown email and a wrong password report the same message: the
// endpoint must not reveal which emails have accounts.
//
// A failed attempt must still persist its counter increment, and a
// transaction that returns an error rolls everything back. So on mismatch
// the closure commits the increment and stashes the rejection, which is
// returned only after the commit succeeds.
func (s *LoginService) Login(ctx context.Context, rawEmail, password string) (*LoginResult, error) {
	if strings.TrimSpace(rawEmail) == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}
	if !validEmail(rawEmail) {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}
	email := NormalizeEmail(rawEmail)
	now := s.now()

	var (
		acct     *model.Account
		loginErr error
	)
	err := s.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		loginErr = nil
		docs, qErr := tx.Query(ctx, model.UsersCollection, 1,
			docstore.Where("email", docstore.OpEqual, email))
		if qErr != nil {
			return qErr
		}
		if len(docs) == 0 {
			return apperror.NotFound("invalid email or password")
		}
		a := model.AccountFromDoc(&docs[0])

		switch a.Status {
		case model.StatusActive:
		case model.StatusPending:
			return apperror.FailedPrecondition("account not verified, check your email for the verification code")
		default:
			return apperror.FailedPrecondition("account is not active, contact support")
		}

		if a.LoginAttempts >= s.policy.MaxAttempts &&
			!a.LastLoginAttempt.IsZero() &&
			now.Sub(a.LastLoginAttempt) < s.policy.LockoutWindow {
			return apperror.ResourceExhausted("too many failed login attempts, try again later")
		}

		if pwErr := s.idp.VerifyPassword(ctx, a.UID, password); pwErr != nil {
			if !errors.Is(pwErr, identity.ErrWrongPassword) && !errors.Is(pwErr, identity.ErrNotFound) {
				return pwErr
			}
			loginErr = apperror.ValidationFailed("password", "invalid email or password")
			return tx.Update(ctx, model.UsersCollection, docs[0].Key, map[string]any{
				"loginAttempts":    a.LoginAttempts + 1,
				"lastLoginAttempt": docstore.EncodeTime(now),
				"updatedAt":        docstore.EncodeTime(now),
			})
		}

		streak := nextStreak(a.LoginStreak, a.LastLogin, now)
		if upErr := tx.Update(ctx, model.UsersCollection, docs[0].Key, map[string]any{
			"loginAttempts":    0,
			"lastLoginAttempt": nil,
			"loginStreak":      streak,
			"totalLogins":      a.TotalLogins + 1,
			"lastLogin":        docstore.EncodeTime(now),
			"updatedAt":        docstore.EncodeTime(now),
		}); upErr != nil {
			return upErr
		}

		a.LoginAttempts = 0
		a.LastLoginAttempt = time.Time{}
		a.LoginStreak = streak
		a.TotalLogins++
		a.LastLogin = now
		a.UpdatedAt = now
		acct = a
		return nil
	})
	if err != nil {
		return asAppError[LoginResult](err, "login failed")
	}
	if loginErr != nil {
		s.logger.Info("failed login attempt", slog.String("email", email))
		return nil, loginErr
	}

	token, err := s.idp.IssueCustomToken(ctx, acct.UID)
	if err != nil {
		return nil, apperror.Internal("could not issue sign-in token", err)
	}

	s.logger.Info("login",
		slog.String("uid", acct.UID),
		slog.Int("streak", acct.LoginStreak))
	return &LoginResult{UID: acct.UID, CustomToken: token, Account: acct}, nil
}

// nextStreak computes the daily login streak:
//
//	never logged in before        → 1
//	last login over a day ago     → 1 (streak broken)
//	last login on an earlier day  → streak + 1
//	already logged in today       → unchanged
func nextStreak(current int, lastLogin, now time.Time) int {
	switch {
	case lastLogin.IsZero():
		return 1
	case now.Sub(lastLogin) > 24*time.Hour:
		return 1
	case !sameCalendarDay(lastLogin, now):
		return current + 1
	default:
		if current == 0 {
			return 1
		}
		return current
	}
}
