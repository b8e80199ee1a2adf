// Package migrate rekeys legacy account documents onto Identity Provider
// UIDs and rewrites every dependent record that still references the old
// key.
//
// Historically account documents were keyed by student id. The durable key
// is the identity UID: it never changes, while student ids get retyped,
// reissued, and fat-fingered. The engine walks the users collection,
// resolves each document's email against the identity provider, and moves
// the document and its dependents over. Running it twice is safe: documents
// already under their UID are counted and left alone.
package migrate

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

// updateChunkSize keeps dependent-record batches under docstore.MaxBatchOps.
const updateChunkSize = 400

// Outcome classifies what the engine did with one account document.
type Outcome string

const (
	// OutcomeMigrated: the document moved from a legacy key to its UID.
	OutcomeMigrated Outcome = "migrated"
	// OutcomeAlreadyCorrect: the document already sits under its UID.
	OutcomeAlreadyCorrect Outcome = "already_correct"
	// OutcomeSkippedNoAuth: no identity account exists for the email, so
	// there is no UID to migrate to.
	OutcomeSkippedNoAuth Outcome = "skipped_no_auth"
	// OutcomeSkippedNoEmail: the document has no email to resolve.
	OutcomeSkippedNoEmail Outcome = "skipped_no_email"
)

// Entry records the outcome for one account document.
type Entry struct {
	Key     string
	Email   string
	UID     string
	Outcome Outcome
}

// Report summarizes one engine run.
type Report struct {
	Scanned        int
	Migrated       int
	AlreadyCorrect int
	Skipped        int
	// DependentsUpdated counts rewritten records per collection.
	DependentsUpdated map[string]int
	Entries           []Entry
}

// Engine performs the migration. With DryRun set it only reports what a
// real run would change.
type Engine struct {
	docs   docstore.Store
	idp    identity.Provider
	logger *slog.Logger

	DryRun bool
}

func New(docs docstore.Store, idp identity.Provider, logger *slog.Logger) *Engine {
	return &Engine{docs: docs, idp: idp, logger: logger}
}

// Run migrates every account document in one pass.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	users, err := e.docs.Query(ctx, model.UsersCollection, 0)
	if err != nil {
		return nil, fmt.Errorf("migrate: listing account documents: %w", err)
	}

	report := &Report{
		Scanned:           len(users),
		DependentsUpdated: make(map[string]int),
	}
	for i := range users {
		entry, err := e.migrateOne(ctx, &users[i], report)
		if err != nil {
			return report, err
		}
		report.Entries = append(report.Entries, entry)
	}

	e.logger.Info("migration complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("migrated", report.Migrated),
		slog.Int("alreadyCorrect", report.AlreadyCorrect),
		slog.Int("skipped", report.Skipped),
		slog.Bool("dryRun", e.DryRun))
	return report, nil
}

func (e *Engine) migrateOne(ctx context.Context, doc *docstore.Document, report *Report) (Entry, error) {
	entry := Entry{Key: doc.Key}

	rec, err := e.resolveIdentity(ctx, doc)
	if err != nil {
		if errors.Is(err, errNoEmail) {
			entry.Outcome = OutcomeSkippedNoEmail
			report.Skipped++
			return entry, nil
		}
		if errors.Is(err, identity.ErrNotFound) {
			entry.Email = docstore.String(doc.Data, "email")
			entry.Outcome = OutcomeSkippedNoAuth
			report.Skipped++
			return entry, nil
		}
		return entry, err
	}
	entry.Email = rec.Email
	entry.UID = rec.UID

	// Legacy references may linger under the old document key or under a
	// stored student id even when the document itself is fine.
	legacyKeys := make([]string, 0, 2)
	if doc.Key != rec.UID {
		legacyKeys = append(legacyKeys, doc.Key)
	}
	if sid := docstore.String(doc.Data, "studentId"); sid != "" && sid != rec.UID && sid != doc.Key {
		legacyKeys = append(legacyKeys, sid)
	}

	if doc.Key == rec.UID {
		entry.Outcome = OutcomeAlreadyCorrect
		report.AlreadyCorrect++
		if docstore.String(doc.Data, "uid") != rec.UID && !e.DryRun {
			// Backfill the uid field on documents created before it existed.
			if err := e.docs.Update(ctx, model.UsersCollection, doc.Key, map[string]any{"uid": rec.UID}); err != nil {
				return entry, fmt.Errorf("migrate: backfilling uid on %s: %w", doc.Key, err)
			}
		}
	} else {
		if !e.DryRun {
			if err := e.rekeyAccountDoc(ctx, doc, rec.UID); err != nil {
				return entry, err
			}
		}
		entry.Outcome = OutcomeMigrated
		report.Migrated++
		e.logger.Info("account document migrated",
			slog.String("from", doc.Key), slog.String("to", rec.UID))
	}

	for _, legacy := range legacyKeys {
		if err := e.rewriteDependents(ctx, legacy, rec.UID, report); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// errNoEmail marks documents with no way to resolve an identity account.
var errNoEmail = errors.New("migrate: document has no email")

// resolveIdentity finds the identity account backing a document. Email is
// the primary handle; documents without one get a second chance by key, in
// case the key already is a UID whose email was scrubbed.
func (e *Engine) resolveIdentity(ctx context.Context, doc *docstore.Document) (*identity.Record, error) {
	email := docstore.String(doc.Data, "email")
	if email != "" {
		rec, err := e.idp.LookupByEmail(ctx, email)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("migrate: resolving %s: %w", email, err)
		}
		return rec, err
	}
	rec, err := e.idp.LookupByUID(ctx, doc.Key)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, errNoEmail
		}
		return nil, fmt.Errorf("migrate: resolving key %s: %w", doc.Key, err)
	}
	return rec, nil
}

// rekeyAccountDoc moves the document under its UID and deletes the legacy
// copy in one transaction. An existing document under the UID wins: the
// legacy copy is dropped rather than overwriting newer data.
func (e *Engine) rekeyAccountDoc(ctx context.Context, doc *docstore.Document, uid string) error {
	data := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		data[k] = v
	}
	data["uid"] = uid

	err := e.docs.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, getErr := tx.Get(ctx, model.UsersCollection, uid)
		switch {
		case getErr == nil:
			// Target exists, keep it.
		case errors.Is(getErr, docstore.ErrNotFound):
			if setErr := tx.Set(ctx, model.UsersCollection, uid, data); setErr != nil {
				return setErr
			}
		default:
			return getErr
		}
		return tx.Delete(ctx, model.UsersCollection, doc.Key)
	})
	if err != nil {
		return fmt.Errorf("migrate: rekeying %s to %s: %w", doc.Key, uid, err)
	}
	return nil
}

// rewriteDependents repoints every record referencing legacy onto uid,
// renaming the reference field where the registry says so. Writes go out in
// bounded batches.
func (e *Engine) rewriteDependents(ctx context.Context, legacy, uid string, report *Report) error {
	batch := e.docs.NewBatch()
	flush := func() error {
		if batch.Len() == 0 || e.DryRun {
			batch = e.docs.NewBatch()
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			return err
		}
		batch = e.docs.NewBatch()
		return nil
	}

	for _, m := range registry.UserData {
		matches, err := e.docs.Query(ctx, m.Collection, 0,
			docstore.Where(m.ForeignKey, docstore.OpEqual, legacy))
		if err != nil {
			return fmt.Errorf("migrate: querying %s by %s: %w", m.Collection, m.ForeignKey, err)
		}
		for _, match := range matches {
			fields := map[string]any{m.TargetKey: uid}
			if m.Renamed() {
				fields[m.ForeignKey] = nil
			}
			batch.Update(m.Collection, match.Key, fields)
			report.DependentsUpdated[m.Collection]++
			if batch.Len() >= updateChunkSize {
				if err := flush(); err != nil {
					return fmt.Errorf("migrate: rewriting %s: %w", m.Collection, err)
				}
			}
		}
		if err := flush(); err != nil {
			return fmt.Errorf("migrate: rewriting %s: %w", m.Collection, err)
		}
	}
	return nil
}
