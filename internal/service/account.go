package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/pathfit-backend/internal/apperror"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
	"github.com/sakif/pathfit-backend/internal/registry"
)

// deleteChunkSize keeps cascade batches safely under docstore.MaxBatchOps.
const deleteChunkSize = 400

// AccountService covers the lifecycle of an already-active account: profile
// sync on sign-in and full teardown.
type AccountService struct {
	docs   docstore.Store
	idp    identity.Provider
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountService(docs docstore.Store, idp identity.Provider, logger *slog.Logger) *AccountService {
	return &AccountService{
		docs:   docs,
		idp:    idp,
		logger: logger,
		now:    time.Now,
	}
}

// DeletionResult reports what a teardown actually removed.
type DeletionResult struct {
	UID             string
	Email           string
	DocsDeleted     int
	IdentityDeleted bool
}

// DeleteAccount tears down everything the platform holds for a user, in an
// order chosen so that a crash at any point leaves the system recoverable:
//
//  1. write the deletedAccounts blacklist entry, so the email can never
//     re-register even if the rest of the teardown is interrupted
//  2. delete the user's documents across every registered collection
//  3. delete the user profile document
//  4. delete the identity provider account last, so the user can retry the
//     operation while anything is left
//
// If step 4 fails after the documents are gone, the result reports the
// partial state alongside the error; the caller must retry.
func (s *AccountService) DeleteAccount(ctx context.Context, uid string) (*DeletionResult, error) {
	if uid == "" {
		return nil, apperror.Unauthenticated("sign in to delete your account")
	}
	now := s.now()
	result := &DeletionResult{UID: uid}

	email := ""
	if doc, err := s.docs.Get(ctx, model.UsersCollection, uid); err == nil {
		email = NormalizeEmail(docstore.String(doc.Data, "email"))
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, apperror.Internal("could not load the account", err)
	}
	if email == "" {
		if rec, err := s.idp.LookupByUID(ctx, uid); err == nil {
			email = NormalizeEmail(rec.Email)
		}
	}
	result.Email = email

	if email != "" {
		rec := model.DeletionRecord{Email: email, FormerUID: uid, DeletedAt: now}
		if err := s.docs.Set(ctx, model.DeletedAccountsCollection, email, rec.ToDoc()); err != nil {
			return nil, apperror.Internal("could not record the deletion", err)
		}
	}

	deleted, err := deleteUserDocuments(ctx, s.docs, uid)
	result.DocsDeleted = deleted
	if err != nil {
		return result, apperror.Internal("account data could not be fully removed", err)
	}

	if err := s.docs.Delete(ctx, model.UsersCollection, uid); err != nil {
		return result, apperror.Internal("account data could not be fully removed", err)
	}
	result.DocsDeleted++

	if err := s.idp.DeleteAccount(ctx, uid); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return result, apperror.Internal("account data was removed but the sign-in account could not be deleted, please retry", err)
	}
	result.IdentityDeleted = true

	s.logger.Info("account deleted",
		slog.String("uid", uid),
		slog.String("email", email),
		slog.Int("docs", result.DocsDeleted))
	return result, nil
}

// deleteUserDocuments removes every document belonging to uid across the
// user-data registry, committing in chunks below the batch ceiling. It
// returns the number of documents deleted, even on error.
func deleteUserDocuments(ctx context.Context, docs docstore.Store, uid string) (int, error) {
	deleted := 0
	batch := docs.NewBatch()

	flush := func() error {
		n := batch.Len()
		if n == 0 {
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			return err
		}
		deleted += n
		batch = docs.NewBatch()
		return nil
	}

	for _, m := range registry.UserData {
		for _, field := range m.OwnerFields() {
			matches, err := docs.Query(ctx, m.Collection, 0,
				docstore.Where(field, docstore.OpEqual, uid))
			if err != nil {
				return deleted, err
			}
			for _, doc := range matches {
				batch.Delete(m.Collection, doc.Key)
				if batch.Len() >= deleteChunkSize {
					if err := flush(); err != nil {
						return deleted, err
					}
				}
			}
		}
	}
	return deleted, flush()
}

// SyncResult is the outcome of a profile sync.
type SyncResult struct {
	Account   *model.Account
	IsNewUser bool
}

// SyncProfile is called by the client right after a session starts. It
// stamps the profile's last-seen time, or creates a minimal profile from
// the identity record when none exists yet (an account activated on another
// device, or one whose profile document was lost).
func (s *AccountService) SyncProfile(ctx context.Context, uid string) (*SyncResult, error) {
	if uid == "" {
		return nil, apperror.Unauthenticated("sign in to sync your profile")
	}
	now := s.now()

	doc, err := s.docs.Get(ctx, model.UsersCollection, uid)
	if err == nil {
		if upErr := s.docs.Update(ctx, model.UsersCollection, uid, map[string]any{
			"lastLoginAt": docstore.EncodeTime(now),
			"updatedAt":   docstore.EncodeTime(now),
		}); upErr != nil {
			return nil, apperror.Internal("could not sync the profile", upErr)
		}
		acct := model.AccountFromDoc(doc)
		acct.LastLoginAt = now
		acct.UpdatedAt = now
		return &SyncResult{Account: acct}, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, apperror.Internal("could not load the profile", err)
	}

	rec, err := s.idp.LookupByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, apperror.NotFound("no account found for this session")
		}
		return nil, apperror.Internal("could not load the account", err)
	}

	acct := &model.Account{
		UID:           uid,
		Email:         NormalizeEmail(rec.Email),
		Status:        model.StatusActive,
		FullName:      rec.DisplayName,
		Role:          "student",
		IsStudent:     true,
		EmailVerified: rec.EmailVerified,
		IsActive:      true,
		IsNewUser:     true,
		Preferences:   model.DefaultPreferences(),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastLoginAt:   now,
	}
	if err := s.docs.Set(ctx, model.UsersCollection, uid, acct.ToDoc()); err != nil {
		return nil, apperror.Internal("could not create the profile", err)
	}

	s.logger.Info("profile created on sync", slog.String("uid", uid))
	return &SyncResult{Account: acct, IsNewUser: true}, nil
}
