package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/pathfit-backend/internal/apperror"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/service"
)

// AccountHandler exposes the authenticated account endpoints:
//
//	POST   /api/account/sync  → stamp last-seen, recreate a lost profile
//	DELETE /api/account       → full teardown of the caller's account
//
// Both run behind identity.RequireAuth; the UID always comes from the
// verified token, never from the request body, so a caller can only ever
// act on their own account.
type AccountHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// HandleSync stamps the profile and returns it, creating it from the
// identity record if the document is missing.
//
// HTTP: POST /api/account/sync
func (h *AccountHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	uid, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("valid authentication required"))
		return
	}

	res, err := h.accounts.SyncProfile(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"user":      accountPayload(res.Account),
		"isNewUser": res.IsNewUser,
	})
}

// HandleDelete tears down the caller's account: blacklist entry, dependent
// records, profile document, identity account.
//
// HTTP: DELETE /api/account
//
// A partial teardown (documents gone, identity deletion failed) returns the
// error envelope so the client retries; retrying is safe because every step
// is idempotent.
func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("valid authentication required"))
		return
	}

	res, err := h.accounts.DeleteAccount(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"uid":         res.UID,
		"docsDeleted": res.DocsDeleted,
		"message":     "account deleted",
	})
}
