package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/pathfit-backend/internal/model"
	"github.com/sakif/pathfit-backend/internal/service"
)

// AuthHandler exposes the unauthenticated account lifecycle endpoints:
//
//	POST /api/auth/register     → create a pending registration, mail a code
//	POST /api/auth/resend-code  → mail a fresh code for a pending registration
//	POST /api/auth/verify       → promote pending → active, return a token
//	POST /api/auth/login        → authenticate, return a token
type AuthHandler struct {
	registration *service.RegistrationService
	login        *service.LoginService
	logger       *slog.Logger
}

func NewAuthHandler(registration *service.RegistrationService, login *service.LoginService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		login:        login,
		logger:       logger,
	}
}

// registerRequest mirrors the sign-up form.
type registerRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	FirstName  string  `json:"firstName"`
	MiddleName string  `json:"middleName"`
	LastName   string  `json:"lastName"`
	Age        int     `json:"age"`
	Gender     string  `json:"gender"`
	Course     string  `json:"course"`
	Year       string  `json:"year"`
	Section    string  `json:"section"`
	Height     float64 `json:"height"`
	Weight     float64 `json:"weight"`
	BMI        float64 `json:"bmi"`
	BMIResult  string  `json:"bmiResult"`
}

// HandleRegister creates a pending registration.
//
// HTTP: POST /api/auth/register
//
// 201 even when the verification mail bounced: the registration exists and
// the client is told to use resend. The emailError flag is how it knows.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.registration.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Age:        req.Age,
		Gender:     req.Gender,
		Course:     req.Course,
		Year:       req.Year,
		Section:    req.Section,
		Height:     req.Height,
		Weight:     req.Weight,
		BMI:        req.BMI,
		BMIResult:  req.BMIResult,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{
		"email":         res.Email,
		"emailError":    res.EmailError,
		"expiresInMins": int(res.CodeTTL / time.Minute),
		"message":       "verification code sent, check your email",
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

// HandleResendCode mails a fresh verification code.
//
// HTTP: POST /api/auth/resend-code
func (h *AuthHandler) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.registration.ResendCode(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"email":          res.Email,
		"expiresInHours": int(res.CodeTTL / time.Hour),
		"message":        "a new verification code is on its way",
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// HandleVerify checks the code and activates the account.
//
// HTTP: POST /api/auth/verify
//
// On success the client gets the custom token and signs in immediately; no
// separate login round-trip after verification.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.registration.VerifyAndActivate(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"uid":     res.UID,
		"token":   res.CustomToken,
		"user":    accountPayload(res.Account),
		"message": "account verified",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin authenticates an active account.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"uid":   res.UID,
		"token": res.CustomToken,
		"user":  accountPayload(res.Account),
	})
}

// accountPayload is the client-visible projection of an account. Secrets
// and verification sub-state never appear here.
func accountPayload(a *model.Account) envelope {
	payload := envelope{
		"uid":           a.UID,
		"email":         a.Email,
		"firstName":     a.FirstName,
		"middleName":    a.MiddleName,
		"lastName":      a.LastName,
		"fullName":      a.FullName,
		"age":           a.Age,
		"gender":        a.Gender,
		"course":        a.Course,
		"year":          a.Year,
		"section":       a.Section,
		"height":        a.Height,
		"weight":        a.Weight,
		"bmi":           a.BMI,
		"bmiResult":     a.BMIResult,
		"role":          a.Role,
		"emailVerified": a.EmailVerified,
		"isNewUser":     a.IsNewUser,
		"loginStreak":   a.LoginStreak,
		"totalLogins":   a.TotalLogins,
		"preferences": envelope{
			"theme":         a.Preferences.Theme,
			"notifications": a.Preferences.Notifications,
			"language":      a.Preferences.Language,
		},
	}
	if !a.LastLogin.IsZero() {
		payload["lastLogin"] = a.LastLogin
	}
	return payload
}
