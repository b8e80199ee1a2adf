package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *docstore.SQLite, *identity.SQLite) {
	t.Helper()

	docs, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	t.Cleanup(func() { docs.Close() })

	tokens, err := identity.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	idp, err := identity.OpenSQLite(":memory:", tokens, identity.NewPasswordServiceForTest(4))
	if err != nil {
		t.Fatalf("identity.OpenSQLite: %v", err)
	}
	t.Cleanup(func() { idp.Close() })

	return New(docs, idp, slog.New(slog.NewTextHandler(io.Discard, nil))), docs, idp
}

func createIdentity(t *testing.T, idp *identity.SQLite, email string) string {
	t.Helper()
	uid, err := idp.CreateAccount(context.Background(), identity.NewAccount{
		Email:         email,
		PasswordHash:  "$2a$04$abcdefghijklmnopqrstuvXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	return uid
}

func seedLegacyUser(t *testing.T, docs *docstore.SQLite, key, email string) {
	t.Helper()
	err := docs.Set(context.Background(), model.UsersCollection, key, map[string]any{
		"email":         email,
		"accountStatus": "active",
		"studentId":     key,
		"firstName":     "Legacy",
		"createdAt":     docstore.EncodeTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", key, err)
	}
}

func TestRunMigratesLegacyKeyedDocument(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	ctx := context.Background()

	uid := createIdentity(t, idp, "legacy@example.com")
	seedLegacyUser(t, docs, "S12345", "legacy@example.com")

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Migrated != 1 {
		t.Errorf("Migrated = %d, want 1", report.Migrated)
	}

	// Old key gone, new key present and stamped with the UID.
	if _, err := docs.Get(ctx, model.UsersCollection, "S12345"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("legacy doc still present: %v", err)
	}
	doc, err := docs.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		t.Fatalf("migrated doc: %v", err)
	}
	if got := docstore.String(doc.Data, "uid"); got != uid {
		t.Errorf("uid field = %q, want %q", got, uid)
	}
	if got := docstore.String(doc.Data, "firstName"); got != "Legacy" {
		t.Errorf("profile fields not carried over, firstName = %q", got)
	}
}

func TestRunRewritesDependentsAndRenamesFields(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	ctx := context.Background()

	uid := createIdentity(t, idp, "deps@example.com")
	seedLegacyUser(t, docs, "S777", "deps@example.com")

	seed := map[string]map[string]any{
		"studentQuizzes/q1": {"studentId": "S777", "score": 8},
		"workouts/w1":       {"userId": "S777", "type": "run"},
		"messages/m1":       {"senderId": "S777", "recipientId": "peer"},
		"workouts/w2":       {"userId": "someone-else"},
	}
	for path, data := range seed {
		collection, key := splitPath(path)
		if err := docs.Set(ctx, collection, key, data); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.DependentsUpdated["studentQuizzes"] != 1 {
		t.Errorf("studentQuizzes updated = %d, want 1", report.DependentsUpdated["studentQuizzes"])
	}

	// Renamed mapping: studentId is cleared, userId carries the UID.
	quiz, err := docs.Get(ctx, "studentQuizzes", "q1")
	if err != nil {
		t.Fatalf("quiz doc: %v", err)
	}
	if got := docstore.String(quiz.Data, "userId"); got != uid {
		t.Errorf("quiz userId = %q, want %q", got, uid)
	}
	if _, present := quiz.Data["studentId"]; present {
		t.Error("legacy studentId field not removed")
	}

	// Same-name mapping: the value is rewritten in place.
	workout, _ := docs.Get(ctx, "workouts", "w1")
	if got := docstore.String(workout.Data, "userId"); got != uid {
		t.Errorf("workout userId = %q, want %q", got, uid)
	}
	msg, _ := docs.Get(ctx, "messages", "m1")
	if got := docstore.String(msg.Data, "senderId"); got != uid {
		t.Errorf("message senderId = %q, want %q", got, uid)
	}

	// Unrelated records are untouched.
	other, _ := docs.Get(ctx, "workouts", "w2")
	if got := docstore.String(other.Data, "userId"); got != "someone-else" {
		t.Errorf("bystander workout rewritten to %q", got)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	ctx := context.Background()

	uid := createIdentity(t, idp, "twice@example.com")
	seedLegacyUser(t, docs, "S1", "twice@example.com")

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Migrated != 0 {
		t.Errorf("second run Migrated = %d, want 0", report.Migrated)
	}
	if report.AlreadyCorrect != 1 {
		t.Errorf("second run AlreadyCorrect = %d, want 1", report.AlreadyCorrect)
	}
	if _, err := docs.Get(ctx, model.UsersCollection, uid); err != nil {
		t.Errorf("migrated doc lost on second run: %v", err)
	}
}

func TestRunSkipsAccountsWithoutIdentity(t *testing.T) {
	e, docs, _ := newTestEngine(t)
	ctx := context.Background()

	seedLegacyUser(t, docs, "S404", "ghost@example.com")

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if len(report.Entries) != 1 || report.Entries[0].Outcome != OutcomeSkippedNoAuth {
		t.Errorf("entries = %+v", report.Entries)
	}
	// The document is left alone so the account can be reconciled by hand.
	if _, err := docs.Get(ctx, model.UsersCollection, "S404"); err != nil {
		t.Errorf("skipped doc removed: %v", err)
	}
}

func TestRunResolvesEmaillessDocumentByKey(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	ctx := context.Background()

	// An old export scrubbed the email field but the key is already the
	// UID, so the key alone identifies the account.
	uid := createIdentity(t, idp, "scrubbed@example.com")
	err := docs.Set(ctx, model.UsersCollection, uid, map[string]any{
		"accountStatus": "active",
		"firstName":     "Scrubbed",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.AlreadyCorrect != 1 {
		t.Errorf("AlreadyCorrect = %d, want 1", report.AlreadyCorrect)
	}
	// The uid field is backfilled on documents that predate it.
	doc, err := docs.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		t.Fatalf("doc: %v", err)
	}
	if got := docstore.String(doc.Data, "uid"); got != uid {
		t.Errorf("uid field = %q, want %q", got, uid)
	}
}

func TestRunSkipsDocumentsWithNoHandle(t *testing.T) {
	e, docs, _ := newTestEngine(t)
	ctx := context.Background()

	if err := docs.Set(ctx, model.UsersCollection, "junk-1", map[string]any{
		"accountStatus": "active",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Entries) != 1 || report.Entries[0].Outcome != OutcomeSkippedNoEmail {
		t.Errorf("entries = %+v", report.Entries)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	e.DryRun = true
	ctx := context.Background()

	createIdentity(t, idp, "dry@example.com")
	seedLegacyUser(t, docs, "S9", "dry@example.com")
	if err := docs.Set(ctx, "workouts", "w1", map[string]any{"userId": "S9"}); err != nil {
		t.Fatalf("seed workout: %v", err)
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Migrated != 1 {
		t.Errorf("dry run must still count, Migrated = %d", report.Migrated)
	}
	if report.DependentsUpdated["workouts"] != 1 {
		t.Errorf("dry run must still count dependents, got %d", report.DependentsUpdated["workouts"])
	}

	// Nothing moved.
	if _, err := docs.Get(ctx, model.UsersCollection, "S9"); err != nil {
		t.Errorf("legacy doc touched by dry run: %v", err)
	}
	workout, _ := docs.Get(ctx, "workouts", "w1")
	if got := docstore.String(workout.Data, "userId"); got != "S9" {
		t.Errorf("dependent touched by dry run: %q", got)
	}
}

func TestRekeyKeepsExistingTargetDocument(t *testing.T) {
	e, docs, idp := newTestEngine(t)
	ctx := context.Background()

	uid := createIdentity(t, idp, "race@example.com")
	seedLegacyUser(t, docs, "S2", "race@example.com")
	// A document already under the UID, written after the legacy one,
	// must not be clobbered by the stale copy.
	if err := docs.Set(ctx, model.UsersCollection, uid, map[string]any{
		"email":     "race@example.com",
		"uid":       uid,
		"firstName": "Fresh",
	}); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, err := docs.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		t.Fatalf("target doc: %v", err)
	}
	if got := docstore.String(doc.Data, "firstName"); got != "Fresh" {
		t.Errorf("newer document overwritten, firstName = %q", got)
	}
	if _, err := docs.Get(ctx, model.UsersCollection, "S2"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("stale legacy doc still present: %v", err)
	}
}

func splitPath(path string) (collection, key string) {
	for i := range path {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
