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
	"github.com/sakif/pathfit-backend/internal/mail"
	"github.com/sakif/pathfit-backend/internal/model"
)

// RegistrationPolicy holds the tunable knobs of the registration flow.
type RegistrationPolicy struct {
	// CodeTTL is how long the initial verification code stays valid.
	CodeTTL time.Duration
	// ResendCodeTTL is how long a re-sent code stays valid. Deliberately
	// longer than CodeTTL so a user who missed the first mail gets a
	// comfortable window.
	ResendCodeTTL time.Duration
	// MaxResends is the number of code re-sends allowed per ResendWindow.
	MaxResends int
	// ResendWindow is the rolling window the resend quota applies to.
	ResendWindow time.Duration
}

// DefaultRegistrationPolicy mirrors the production configuration defaults.
func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		CodeTTL:       15 * time.Minute,
		ResendCodeTTL: 24 * time.Hour,
		MaxResends:    3,
		ResendWindow:  time.Hour,
	}
}

// RegistrationService drives the pending → active account state machine:
// registration creates a pending record keyed by email, a mailed code
// proves ownership of the address, and verification promotes the record to
// an active account keyed by the identity provider's UID.
type RegistrationService struct {
	docs       docstore.Store
	idp        identity.Provider
	passwords  *identity.PasswordService
	relay      mail.Relay
	dispatcher *mail.Dispatcher
	policy     RegistrationPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistrationService wires a RegistrationService. The relay is used
// synchronously for the initial verification mail (the caller learns about
// delivery trouble); the dispatcher carries everything that can be
// fire-and-forget.
func NewRegistrationService(
	docs docstore.Store,
	idp identity.Provider,
	passwords *identity.PasswordService,
	relay mail.Relay,
	dispatcher *mail.Dispatcher,
	policy RegistrationPolicy,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		docs:       docs,
		idp:        idp,
		passwords:  passwords,
		relay:      relay,
		dispatcher: dispatcher,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterInput is the profile a student submits when signing up.
type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	MiddleName string
	LastName   string
	Age        int
	Gender     string
	Course     string
	Year       string
	Section    string
	Height     float64
	Weight     float64
	BMI        float64
	BMIResult  string
}

// RegisterResult reports the outcome of a registration attempt.
type RegisterResult struct {
	Email string
	// EmailError is set when the pending record was created but the
	// verification mail could not be delivered. The registration itself
	// succeeded; the user should use the resend endpoint.
	EmailError bool
	CodeTTL    time.Duration
}

// Register validates the profile, creates a pending account document keyed
// by the normalized email, and mails a verification code. No identity
// provider account exists yet; that only happens on verification.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)
	now := s.now()

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	code, err := generateCode()
	if err != nil {
		return nil, apperror.Internal("could not start registration", err)
	}

	acct := &model.Account{
		Email:              email,
		Status:             model.StatusPending,
		PasswordHash:       hash,
		FirstName:          strings.TrimSpace(in.FirstName),
		MiddleName:         strings.TrimSpace(in.MiddleName),
		LastName:           strings.TrimSpace(in.LastName),
		Age:                in.Age,
		Gender:             in.Gender,
		Course:             in.Course,
		Year:               in.Year,
		Section:            in.Section,
		Height:             in.Height,
		Weight:             in.Weight,
		BMI:                in.BMI,
		BMIResult:          in.BMIResult,
		Role:               "student",
		IsStudent:          true,
		ProfileCompleted:   true,
		VerificationCode:   code,
		VerificationExpiry: now.Add(s.policy.CodeTTL),
		Preferences:        model.DefaultPreferences(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	acct.FullName = joinName(acct.FirstName, acct.MiddleName, acct.LastName)

	err = s.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, getErr := tx.Get(ctx, model.DeletedAccountsCollection, email); getErr == nil {
			return apperror.Conflict("this email belonged to a deleted account and cannot be used again")
		} else if !errors.Is(getErr, docstore.ErrNotFound) {
			return getErr
		}

		existing, qErr := tx.Query(ctx, model.UsersCollection, 1,
			docstore.Where("email", docstore.OpEqual, email))
		if qErr != nil {
			return qErr
		}
		if len(existing) > 0 {
			if model.AccountFromDoc(&existing[0]).Status == model.StatusPending {
				return apperror.Conflict("a registration for this email is already awaiting verification")
			}
			return apperror.Conflict("this email is already registered")
		}
		return tx.Set(ctx, model.UsersCollection, email, acct.ToDoc())
	})
	if err != nil {
		return asAppError[RegisterResult](err, "registration failed")
	}

	result := &RegisterResult{Email: email, CodeTTL: s.policy.CodeTTL}
	msg := mail.Verification(email, acct.FirstName, code, s.policy.CodeTTL)
	if sendErr := s.relay.Send(ctx, msg); sendErr != nil {
		s.logger.Error("verification mail failed, registration kept",
			slog.String("email", email), slog.String("error", sendErr.Error()))
		result.EmailError = true
	}
	s.logger.Info("pending registration created", slog.String("email", email))
	return result, nil
}

// ResendResult reports a successful verification-code resend.
type ResendResult struct {
	Email   string
	CodeTTL time.Duration
}

// ResendCode issues a fresh verification code for a pending registration,
// subject to the resend quota. The new code replaces the old one and gets
// the longer ResendCodeTTL.
func (s *RegistrationService) ResendCode(ctx context.Context, rawEmail string) (*ResendResult, error) {
	if strings.TrimSpace(rawEmail) == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if !validEmail(rawEmail) {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}
	email := NormalizeEmail(rawEmail)
	now := s.now()

	code, err := generateCode()
	if err != nil {
		return nil, apperror.Internal("could not issue a new code", err)
	}

	var firstName string
	err = s.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		docs, qErr := tx.Query(ctx, model.UsersCollection, 1,
			docstore.Where("email", docstore.OpEqual, email),
			docstore.Where("accountStatus", docstore.OpEqual, string(model.StatusPending)))
		if qErr != nil {
			return qErr
		}
		if len(docs) == 0 {
			return apperror.NotFound("no pending registration found for this email")
		}
		acct := model.AccountFromDoc(&docs[0])

		// The quota is a rolling window: once the last resend is older
		// than the window the count starts over.
		count := acct.ResendCount
		if !acct.LastResendTime.IsZero() && now.Sub(acct.LastResendTime) > s.policy.ResendWindow {
			count = 0
		}
		if count >= s.policy.MaxResends {
			return apperror.ResourceExhausted("too many verification emails requested, try again later")
		}

		firstName = acct.FirstName
		return tx.Update(ctx, model.UsersCollection, docs[0].Key, map[string]any{
			"verificationCode":   code,
			"verificationExpiry": docstore.EncodeTime(now.Add(s.policy.ResendCodeTTL)),
			"resendCount":        count + 1,
			"lastResendTime":     docstore.EncodeTime(now),
			"updatedAt":          docstore.EncodeTime(now),
		})
	})
	if err != nil {
		return asAppError[ResendResult](err, "could not resend verification code")
	}

	s.dispatcher.Enqueue(mail.Verification(email, firstName, code, s.policy.ResendCodeTTL))
	s.logger.Info("verification code resent", slog.String("email", email))
	return &ResendResult{Email: email, CodeTTL: s.policy.ResendCodeTTL}, nil
}

// ActivationResult is returned after a successful verification: the account
// now exists in the identity provider and is keyed by UID.
type ActivationResult struct {
	UID         string
	CustomToken string
	Account     *model.Account
}

// VerifyAndActivate checks a verification code against the pending record
// and, if it matches and has not expired, promotes the registration to an
// active account: an identity provider account is created with the stored
// password hash, the document moves from the email key to the UID key, and
// a sign-in token is issued.
//
// The identity account is created between two document transactions. If the
// promoting write fails, the freshly created identity account is deleted
// again so a retry starts clean; the pending sweep backstops any account
// this compensation misses.
func (s *RegistrationService) VerifyAndActivate(ctx context.Context, rawEmail, code string) (*ActivationResult, error) {
	if strings.TrimSpace(rawEmail) == "" || strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("email", "email and verification code are required")
	}
	if !validEmail(rawEmail) {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}
	email := NormalizeEmail(rawEmail)
	now := s.now()

	var pending *model.Account
	err := s.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		matches, qErr := tx.Query(ctx, model.UsersCollection, 1,
			docstore.Where("email", docstore.OpEqual, email),
			docstore.Where("accountStatus", docstore.OpEqual, string(model.StatusPending)),
			docstore.Where("verificationCode", docstore.OpEqual, code),
			docstore.Where("verificationExpiry", docstore.OpGreater, now))
		if qErr != nil {
			return qErr
		}
		if len(matches) == 0 {
			return apperror.ValidationFailed("code", "invalid or expired verification code")
		}
		pending = model.AccountFromDoc(&matches[0])
		return nil
	})
	if err != nil {
		return asAppError[ActivationResult](err, "verification failed")
	}

	uid, err := s.idp.CreateAccount(ctx, identity.NewAccount{
		Email:         email,
		PasswordHash:  pending.PasswordHash,
		DisplayName:   pending.DisplayName(),
		EmailVerified: true,
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			return nil, apperror.Conflict("this email is already registered")
		}
		return nil, apperror.Internal("could not create the account", err)
	}

	active := pending.Activate(uid, now)
	err = s.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		current, getErr := tx.Get(ctx, model.UsersCollection, email)
		if getErr != nil {
			if errors.Is(getErr, docstore.ErrNotFound) {
				return apperror.Conflict("this registration was already verified")
			}
			return getErr
		}
		if docstore.String(current.Data, "verificationCode") != code {
			return apperror.Conflict("this registration was already verified")
		}
		if setErr := tx.Set(ctx, model.UsersCollection, uid, active.ToDoc()); setErr != nil {
			return setErr
		}
		return tx.Delete(ctx, model.UsersCollection, email)
	})
	if err != nil {
		if delErr := s.idp.DeleteAccount(ctx, uid); delErr != nil {
			s.logger.Error("orphaned identity account after failed activation",
				slog.String("uid", uid), slog.String("error", delErr.Error()))
		}
		return asAppError[ActivationResult](err, "could not activate the account")
	}

	token, err := s.idp.IssueCustomToken(ctx, uid)
	if err != nil {
		return nil, apperror.Internal("account activated but sign-in token could not be issued", err)
	}

	s.dispatcher.Enqueue(mail.Welcome(email, active.FirstName, uid, active.Course))
	s.logger.Info("account activated", slog.String("uid", uid), slog.String("email", email))
	return &ActivationResult{UID: uid, CustomToken: token, Account: active}, nil
}

func validateRegistration(in RegisterInput) error {
	switch {
	case strings.TrimSpace(in.Email) == "":
		return apperror.ValidationFailed("email", "email is required")
	case !validEmail(in.Email):
		return apperror.ValidationFailed("email", "invalid email format")
	case in.Password == "":
		return apperror.ValidationFailed("password", "password is required")
	case len(in.Password) < 6:
		return apperror.ValidationFailed("password", "password must be at least 6 characters")
	case strings.TrimSpace(in.FirstName) == "":
		return apperror.ValidationFailed("firstName", "first name is required")
	case strings.TrimSpace(in.LastName) == "":
		return apperror.ValidationFailed("lastName", "last name is required")
	case in.Age < 0 || in.Age > 120:
		return apperror.ValidationFailed("age", "age is out of range")
	case !validYear(in.Year):
		return apperror.ValidationFailed("year", "year must be between 1 and 4")
	}
	return nil
}

func validYear(year string) bool {
	switch strings.TrimSpace(year) {
	case "1", "2", "3", "4":
		return true
	}
	return false
}

func joinName(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// asAppError passes taxonomy errors through untouched and wraps anything
// else (storage trouble, conversion failures) as an internal error with a
// caller-facing message.
func asAppError[T any](err error, msg string) (*T, error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		return nil, err
	}
	return nil, apperror.Internal(msg, err)
}
