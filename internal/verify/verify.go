// Package verify audits the consistency between the identity provider and
// the document store after migrations and deletions. It never writes; its
// report is for an operator deciding whether another migration pass or a
// manual fix is needed.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
	"github.com/sakif/pathfit-backend/internal/registry"
)

const listPageSize = 100

// Finding classifies one account-level inconsistency.
type Finding string

const (
	// FindingMissingDoc: an identity account with no document under its UID.
	FindingMissingDoc Finding = "missing_doc"
	// FindingOrphanedDoc: an active document whose email has no identity
	// account.
	FindingOrphanedDoc Finding = "orphaned_doc"
	// FindingLegacyKey: an active document still keyed by something other
	// than its identity UID.
	FindingLegacyKey Finding = "legacy_key"
)

// AccountIssue is one flagged account.
type AccountIssue struct {
	Key     string // document key, "" for identity-only issues
	UID     string
	Email   string
	Finding Finding
}

// CollectionStats summarizes the references in one registered collection.
type CollectionStats struct {
	Collection string
	Field      string
	// UIDRefs counts references that look like identity UIDs.
	UIDRefs int
	// LegacyRefs counts references that still look like student ids.
	LegacyRefs int
	// StaleFields counts records still carrying the pre-rename field.
	StaleFields int
}

// Report is the full audit result.
type Report struct {
	AccountsChecked int
	DocsChecked     int
	Consistent      int
	Issues          []AccountIssue
	Collections     []CollectionStats
}

// Clean reports whether the audit found nothing to fix.
func (r *Report) Clean() bool {
	if len(r.Issues) > 0 {
		return false
	}
	for _, c := range r.Collections {
		if c.LegacyRefs > 0 || c.StaleFields > 0 {
			return false
		}
	}
	return true
}

// Verifier runs the audit.
type Verifier struct {
	docs   docstore.Store
	idp    identity.Provider
	logger *slog.Logger
}

func New(docs docstore.Store, idp identity.Provider, logger *slog.Logger) *Verifier {
	return &Verifier{docs: docs, idp: idp, logger: logger}
}

// Run performs the full audit: every identity account against the document
// store, every active document against the identity provider, and every
// registered collection's reference fields.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := v.checkAccounts(ctx, report); err != nil {
		return nil, err
	}
	if err := v.checkDocuments(ctx, report); err != nil {
		return nil, err
	}
	if err := v.checkCollections(ctx, report); err != nil {
		return nil, err
	}

	v.logger.Info("consistency audit complete",
		slog.Int("accounts", report.AccountsChecked),
		slog.Int("docs", report.DocsChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Bool("clean", report.Clean()))
	return report, nil
}

// checkAccounts pages through every identity account and confirms a
// document exists under its UID.
func (v *Verifier) checkAccounts(ctx context.Context, report *Report) error {
	pageToken := ""
	for {
		records, next, err := v.idp.ListAccounts(ctx, pageToken, listPageSize)
		if err != nil {
			return fmt.Errorf("verify: listing identity accounts: %w", err)
		}
		for _, rec := range records {
			report.AccountsChecked++
			_, getErr := v.docs.Get(ctx, model.UsersCollection, rec.UID)
			switch {
			case getErr == nil:
				report.Consistent++
			case errors.Is(getErr, docstore.ErrNotFound):
				report.Issues = append(report.Issues, AccountIssue{
					UID:     rec.UID,
					Email:   rec.Email,
					Finding: FindingMissingDoc,
				})
			default:
				return fmt.Errorf("verify: reading document for %s: %w", rec.UID, getErr)
			}
		}
		if next == "" {
			return nil
		}
		pageToken = next
	}
}

// checkDocuments confirms every active document is keyed by the UID of a
// real identity account. Pending documents are email-keyed on purpose and
// are skipped.
func (v *Verifier) checkDocuments(ctx context.Context, report *Report) error {
	docs, err := v.docs.Query(ctx, model.UsersCollection, 0)
	if err != nil {
		return fmt.Errorf("verify: listing account documents: %w", err)
	}
	for i := range docs {
		doc := &docs[i]
		if docstore.String(doc.Data, "accountStatus") == string(model.StatusPending) {
			continue
		}
		report.DocsChecked++

		email := docstore.String(doc.Data, "email")
		if email == "" {
			// No email to resolve; the key shape is all there is to
			// go on.
			if LegacyStudentID(doc.Key) {
				report.Issues = append(report.Issues, AccountIssue{
					Key:     doc.Key,
					Finding: FindingLegacyKey,
				})
			}
			continue
		}

		rec, lookErr := v.idp.LookupByEmail(ctx, email)
		switch {
		case errors.Is(lookErr, identity.ErrNotFound):
			report.Issues = append(report.Issues, AccountIssue{
				Key:     doc.Key,
				Email:   email,
				Finding: FindingOrphanedDoc,
			})
		case lookErr != nil:
			return fmt.Errorf("verify: resolving %s: %w", email, lookErr)
		case rec.UID != doc.Key:
			report.Issues = append(report.Issues, AccountIssue{
				Key:     doc.Key,
				UID:     rec.UID,
				Email:   email,
				Finding: FindingLegacyKey,
			})
		}
	}
	return nil
}

// checkCollections classifies the reference fields of every registered
// collection.
func (v *Verifier) checkCollections(ctx context.Context, report *Report) error {
	for _, m := range registry.UserData {
		stats := CollectionStats{Collection: m.Collection, Field: m.TargetKey}

		docs, err := v.docs.Query(ctx, m.Collection, 0)
		if err != nil {
			return fmt.Errorf("verify: listing %s: %w", m.Collection, err)
		}
		for i := range docs {
			if ref := docstore.String(docs[i].Data, m.TargetKey); ref != "" {
				if LegacyStudentID(ref) {
					stats.LegacyRefs++
				} else {
					stats.UIDRefs++
				}
			}
			if m.Renamed() {
				if _, present := docs[i].Data[m.ForeignKey]; present {
					stats.StaleFields++
				}
			}
		}
		report.Collections = append(report.Collections, stats)
	}
	return nil
}

// LegacyStudentID reports whether s has the shape of a pre-migration
// student id: an upper-case S followed by digits only.
func LegacyStudentID(s string) bool {
	if len(s) < 2 || s[0] != 'S' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
