package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/pathfit-backend/internal/apperror"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/model"
)

// seedUserData spreads dependent records for uid across the registered
// collections, including one still keyed by a legacy field.
func seedUserData(t *testing.T, f *fixture, uid string) int {
	t.Helper()
	ctx := context.Background()

	docs := []struct {
		collection, key string
		data            map[string]any
	}{
		{"workouts", uid + "-w1", map[string]any{"userId": uid, "type": "run"}},
		{"workouts", uid + "-w2", map[string]any{"userId": uid, "type": "swim"}},
		{"bmiRecords", uid + "-b1", map[string]any{"userId": uid, "bmi": 20.3}},
		{"studentQuizzes", uid + "-q1", map[string]any{"userId": uid, "score": 9}},
		{"studentQuizzes", uid + "-q2", map[string]any{"studentId": uid, "score": 7}},
		{"messages", uid + "-m1", map[string]any{"senderId": uid, "recipientId": "other"}},
		{"messages", uid + "-m2", map[string]any{"senderId": "other", "recipientId": uid}},
		{"notifications", uid + "-n1", map[string]any{"userId": uid}},
	}
	for _, d := range docs {
		if err := f.docs.Set(ctx, d.collection, d.key, d.data); err != nil {
			t.Fatalf("seed %s/%s: %v", d.collection, d.key, err)
		}
	}
	return len(docs)
}

func TestDeleteAccountCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	uid := registerAndActivate(t, f, "doomed@example.com")
	other := registerAndActivate(t, f, "bystander@example.com")
	seeded := seedUserData(t, f, uid)
	seedUserData(t, f, other)

	res, err := f.accounts.DeleteAccount(ctx, uid)
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if !res.IdentityDeleted {
		t.Error("identity account not deleted")
	}
	if res.Email != "doomed@example.com" {
		t.Errorf("Email = %q", res.Email)
	}
	if want := seeded + 1; res.DocsDeleted != want { // dependents + profile
		t.Errorf("DocsDeleted = %d, want %d", res.DocsDeleted, want)
	}

	// Blacklist entry written, profile and dependents gone, identity gone.
	if _, err := f.docs.Get(ctx, model.DeletedAccountsCollection, "doomed@example.com"); err != nil {
		t.Errorf("blacklist entry missing: %v", err)
	}
	if _, err := f.docs.Get(ctx, model.UsersCollection, uid); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("profile doc still present: %v", err)
	}
	for _, collection := range []string{"workouts", "bmiRecords", "studentQuizzes", "notifications"} {
		for _, field := range []string{"userId", "studentId"} {
			left, err := f.docs.Query(ctx, collection, 0,
				docstore.Where(field, docstore.OpEqual, uid))
			if err != nil {
				t.Fatalf("query %s: %v", collection, err)
			}
			if len(left) != 0 {
				t.Errorf("%s still holds %d docs via %s", collection, len(left), field)
			}
		}
	}
	if _, err := f.idp.LookupByUID(ctx, uid); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("identity account still present: %v", err)
	}

	// The bystander is untouched.
	if n, err := f.docs.Query(ctx, "workouts", 0,
		docstore.Where("userId", docstore.OpEqual, other)); err != nil || len(n) != 2 {
		t.Errorf("bystander workouts = %d, %v; want 2", len(n), err)
	}

	// And the email can never come back.
	_, err = f.reg.Register(ctx, validRegistration("doomed@example.com"))
	mustKind(t, err, apperror.ErrConflict)
}

func TestDeleteAccountMessagesBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "chatty@example.com")
	seedUserData(t, f, uid)

	if _, err := f.accounts.DeleteAccount(ctx, uid); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	for _, field := range []string{"senderId", "recipientId"} {
		left, err := f.docs.Query(ctx, "messages", 0,
			docstore.Where(field, docstore.OpEqual, uid))
		if err != nil {
			t.Fatalf("query messages: %v", err)
		}
		if len(left) != 0 {
			t.Errorf("messages still reference the user via %s", field)
		}
	}
}

func TestDeleteAccountWithoutProfileDoc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "noprofile@example.com")
	if err := f.docs.Delete(ctx, model.UsersCollection, uid); err != nil {
		t.Fatalf("remove profile: %v", err)
	}

	// The email is recovered from the identity record so the blacklist
	// entry is still written.
	res, err := f.accounts.DeleteAccount(ctx, uid)
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if res.Email != "noprofile@example.com" {
		t.Errorf("Email = %q", res.Email)
	}
	if _, err := f.docs.Get(ctx, model.DeletedAccountsCollection, "noprofile@example.com"); err != nil {
		t.Errorf("blacklist entry missing: %v", err)
	}
}

func TestDeleteAccountRequiresCaller(t *testing.T) {
	f := newFixture(t)

	_, err := f.accounts.DeleteAccount(context.Background(), "")
	mustKind(t, err, apperror.ErrUnauthenticated)
}

func TestSyncProfileStampsLastSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "sync@example.com")

	f.clock.Advance(3 * time.Hour)
	res, err := f.accounts.SyncProfile(ctx, uid)
	if err != nil {
		t.Fatalf("SyncProfile: %v", err)
	}
	if res.IsNewUser {
		t.Error("existing profile reported as new")
	}
	if !res.Account.LastLoginAt.Equal(f.clock.Now()) {
		t.Errorf("lastLoginAt = %v, want %v", res.Account.LastLoginAt, f.clock.Now())
	}

	doc, _ := f.docs.Get(ctx, model.UsersCollection, uid)
	if docstore.Time(doc.Data, "lastLoginAt").IsZero() {
		t.Error("lastLoginAt not persisted")
	}
}

func TestSyncProfileRecreatesMissingDoc(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "lost@example.com")
	if err := f.docs.Delete(ctx, model.UsersCollection, uid); err != nil {
		t.Fatalf("remove profile: %v", err)
	}

	res, err := f.accounts.SyncProfile(ctx, uid)
	if err != nil {
		t.Fatalf("SyncProfile: %v", err)
	}
	if !res.IsNewUser {
		t.Error("recreated profile not reported as new")
	}
	if res.Account.Email != "lost@example.com" {
		t.Errorf("Email = %q", res.Account.Email)
	}

	doc, err := f.docs.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		t.Fatalf("recreated doc: %v", err)
	}
	if model.AccountFromDoc(doc).Status != model.StatusActive {
		t.Error("recreated profile must be active")
	}
}

func TestSyncProfileUnknownUID(t *testing.T) {
	f := newFixture(t)

	_, err := f.accounts.SyncProfile(context.Background(), "no-such-uid")
	mustKind(t, err, apperror.ErrNotFound)
}
