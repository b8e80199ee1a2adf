// Package sweep holds the scheduled cleanup jobs: expiring stale pending
// registrations (with their audit trail) and purging expired quizzes.
//
// Each job is a plain method that does one bounded pass and returns a
// report, so the offline tools can invoke it directly; the Runner in
// runner.go puts the jobs on a cron schedule for the server process.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
	"github.com/sakif/pathfit-backend/internal/registry"
)

// deleteChunkSize keeps sweep batches under docstore.MaxBatchOps.
const deleteChunkSize = 400

// Policy bounds a sweep pass.
type Policy struct {
	// PendingTimeout is how long a pending registration may sit unverified
	// before it is removed.
	PendingTimeout time.Duration
	// MaxDocs caps the documents one pass touches. A backlog larger than
	// this drains over successive scheduled runs.
	MaxDocs int
}

// DefaultPolicy mirrors the production configuration defaults.
func DefaultPolicy() Policy {
	return Policy{PendingTimeout: 10 * time.Minute, MaxDocs: 100}
}

// Sweeper runs the cleanup passes.
type Sweeper struct {
	docs   docstore.Store
	idp    identity.Provider
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

func New(docs docstore.Store, idp identity.Provider, policy Policy, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		docs:   docs,
		idp:    idp,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// PendingReport summarizes one pending-account sweep pass.
type PendingReport struct {
	Scanned        int
	Deleted        int
	OrphansRemoved int
}

// SweepPending deletes pending registrations whose verification window has
// lapsed well past its TTL. Each removal writes an autoDeletions audit
// record, and any identity account left behind by an interrupted activation
// of that email is removed along the way.
func (s *Sweeper) SweepPending(ctx context.Context) (*PendingReport, error) {
	now := s.now()
	cutoff := now.Add(-s.policy.PendingTimeout)

	stale, err := s.docs.Query(ctx, model.UsersCollection, s.policy.MaxDocs,
		docstore.Where("accountStatus", docstore.OpEqual, string(model.StatusPending)),
		docstore.Where("createdAt", docstore.OpLessEqual, cutoff))
	if err != nil {
		return nil, fmt.Errorf("sweep: querying stale pending accounts: %w", err)
	}

	report := &PendingReport{Scanned: len(stale)}
	if len(stale) == 0 {
		return report, nil
	}

	batch := s.docs.NewBatch()
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("sweep: committing pending deletions: %w", err)
		}
		batch = s.docs.NewBatch()
		return nil
	}
	for i := range stale {
		acct := model.AccountFromDoc(&stale[i])

		// An identity account for a pending email means an activation
		// died between its two commits. Clear it so the user can
		// register again.
		var orphanUID string
		if rec, lookErr := s.idp.LookupByEmail(ctx, acct.Email); lookErr == nil {
			if delErr := s.idp.DeleteAccount(ctx, rec.UID); delErr != nil && !errors.Is(delErr, identity.ErrNotFound) {
				s.logger.Error("could not remove orphaned identity account",
					slog.String("email", acct.Email), slog.String("error", delErr.Error()))
				continue
			}
			orphanUID = rec.UID
			report.OrphansRemoved++
		} else if !errors.Is(lookErr, identity.ErrNotFound) {
			s.logger.Error("identity lookup failed during sweep",
				slog.String("email", acct.Email), slog.String("error", lookErr.Error()))
			continue
		}

		// Pending registrations rarely own dependent records, but anything
		// written against the document key goes with it.
		s.queueDependents(ctx, batch, stale[i].Key)

		batch.Delete(model.UsersCollection, stale[i].Key)
		batch.Set(model.AutoDeletionsCollection, uuid.NewString(), map[string]any{
			"uid":          orphanUID,
			"email":        acct.Email,
			"reason":       "unverified_timeout",
			"deletionType": "automatic",
			"createdAt":    docstore.EncodeTime(acct.CreatedAt),
			"deletedAt":    docstore.EncodeTime(now),
		})
		report.Deleted++

		if batch.Len() >= deleteChunkSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := flush(); err != nil {
		return report, err
	}

	s.logger.Info("pending sweep complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("deleted", report.Deleted),
		slog.Int("orphans", report.OrphansRemoved))
	return report, nil
}

// queueDependents stages deletes for records referencing key in any mapped
// collection. Query failures are logged and skipped so one bad collection
// does not stall the sweep.
func (s *Sweeper) queueDependents(ctx context.Context, batch docstore.Batch, key string) {
	for _, m := range registry.UserData {
		for _, field := range m.OwnerFields() {
			matches, err := s.docs.Query(ctx, m.Collection, 0,
				docstore.Where(field, docstore.OpEqual, key))
			if err != nil {
				s.logger.Error("dependent query failed during sweep",
					slog.String("collection", m.Collection), slog.String("error", err.Error()))
				continue
			}
			for i := range matches {
				batch.Delete(m.Collection, matches[i].Key)
			}
		}
	}
}

// QuizReport summarizes one expired-quiz sweep pass.
type QuizReport struct {
	Deleted int
}

// SweepExpiredQuizzes removes course quizzes whose availability window has
// closed. Attempt and score records stay: they stand on their own once the
// quiz is gone.
func (s *Sweeper) SweepExpiredQuizzes(ctx context.Context) (*QuizReport, error) {
	now := s.now()

	expired, err := s.docs.Query(ctx, model.CourseQuizzesCollection, s.policy.MaxDocs,
		docstore.Where("availableUntil", docstore.OpLessEqual, now))
	if err != nil {
		return nil, fmt.Errorf("sweep: querying expired quizzes: %w", err)
	}
	if len(expired) == 0 {
		return &QuizReport{}, nil
	}

	batch := s.docs.NewBatch()
	for i := range expired {
		batch.Delete(model.CourseQuizzesCollection, expired[i].Key)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sweep: committing quiz deletions: %w", err)
	}

	s.logger.Info("quiz sweep complete", slog.Int("deleted", len(expired)))
	return &QuizReport{Deleted: len(expired)}, nil
}
