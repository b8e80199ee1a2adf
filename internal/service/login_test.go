package service

import (
	"context"
	"testing"
	"time"

	"github.com/sakif/pathfit-backend/internal/apperror"
	"github.com/sakif/pathfit-backend/internal/model"
)

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "login@example.com")

	res, err := f.login.Login(ctx, "LOGIN@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UID != uid {
		t.Errorf("UID = %q, want %q", res.UID, uid)
	}
	if got, err := f.idp.VerifyCustomToken(ctx, res.CustomToken); err != nil || got != uid {
		t.Errorf("VerifyCustomToken = %q, %v", got, err)
	}
	if res.Account.LoginStreak != 1 || res.Account.TotalLogins != 1 {
		t.Errorf("streak/totalLogins = %d/%d, want 1/1",
			res.Account.LoginStreak, res.Account.TotalLogins)
	}

	doc, err := f.docs.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		t.Fatalf("account doc: %v", err)
	}
	acct := model.AccountFromDoc(doc)
	if acct.LastLogin.IsZero() {
		t.Error("lastLogin not stamped")
	}
	if acct.TotalLogins != 1 {
		t.Errorf("persisted totalLogins = %d, want 1", acct.TotalLogins)
	}
}

func TestLoginUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registerAndActivate(t, f, "known@example.com")

	_, unknownErr := f.login.Login(ctx, "unknown@example.com", "hunter22")
	_, wrongErr := f.login.Login(ctx, "known@example.com", "not-the-password")

	if unknownErr == nil || wrongErr == nil {
		t.Fatal("both attempts must fail")
	}
	// Same message in both cases so the endpoint cannot be used to probe
	// which emails have accounts.
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("messages differ: %q vs %q", unknownErr.Error(), wrongErr.Error())
	}
}

func TestLoginWrongPasswordCountsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "attempts@example.com")

	_, err := f.login.Login(ctx, "attempts@example.com", "nope")
	mustKind(t, err, apperror.ErrValidation)

	// The increment must survive the failed login.
	doc, _ := f.docs.Get(ctx, model.UsersCollection, uid)
	acct := model.AccountFromDoc(doc)
	if acct.LoginAttempts != 1 {
		t.Errorf("loginAttempts = %d, want 1", acct.LoginAttempts)
	}
	if acct.LastLoginAttempt.IsZero() {
		t.Error("lastLoginAttempt not stamped")
	}
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "lockout@example.com")

	for i := 0; i < 5; i++ {
		_, err := f.login.Login(ctx, "lockout@example.com", "nope")
		mustKind(t, err, apperror.ErrValidation)
	}

	// Even the correct password is refused while locked.
	_, err := f.login.Login(ctx, "lockout@example.com", "hunter22")
	mustKind(t, err, apperror.ErrResourceExhausted)

	// The lock expires with the window; success clears the counters.
	f.clock.Advance(16 * time.Minute)
	if _, err := f.login.Login(ctx, "lockout@example.com", "hunter22"); err != nil {
		t.Fatalf("login after lockout window: %v", err)
	}
	doc, _ := f.docs.Get(ctx, model.UsersCollection, uid)
	acct := model.AccountFromDoc(doc)
	if acct.LoginAttempts != 0 {
		t.Errorf("loginAttempts = %d after success, want 0", acct.LoginAttempts)
	}
	if !acct.LastLoginAttempt.IsZero() {
		t.Error("lastLoginAttempt not cleared after success")
	}
}

func TestLoginPendingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.reg.Register(ctx, validRegistration("pending@example.com")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := f.login.Login(ctx, "pending@example.com", "hunter22")
	mustKind(t, err, apperror.ErrFailedPrecondition)
}

func TestLoginMissingInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.login.Login(ctx, "", "hunter22")
	mustKind(t, err, apperror.ErrValidation)
	_, err = f.login.Login(ctx, "a@b.co", "")
	mustKind(t, err, apperror.ErrValidation)
}

func TestLoginStreakAcrossDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := registerAndActivate(t, f, "streak@example.com")

	login := func() *model.Account {
		t.Helper()
		res, err := f.login.Login(ctx, "streak@example.com", "hunter22")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		return res.Account
	}

	if a := login(); a.LoginStreak != 1 {
		t.Errorf("first login streak = %d, want 1", a.LoginStreak)
	}
	// Second login the same day leaves the streak alone.
	f.clock.Advance(2 * time.Hour)
	if a := login(); a.LoginStreak != 1 {
		t.Errorf("same-day streak = %d, want 1", a.LoginStreak)
	}
	// Next morning, within 24h of the last login, extends it.
	f.clock.Advance(20 * time.Hour)
	if a := login(); a.LoginStreak != 2 {
		t.Errorf("next-day streak = %d, want 2", a.LoginStreak)
	}
	// A gap of more than a day breaks it.
	f.clock.Advance(49 * time.Hour)
	if a := login(); a.LoginStreak != 1 {
		t.Errorf("post-gap streak = %d, want 1", a.LoginStreak)
	}

	doc, _ := f.docs.Get(ctx, model.UsersCollection, uid)
	if got := model.AccountFromDoc(doc).TotalLogins; got != 4 {
		t.Errorf("totalLogins = %d, want 4", got)
	}
}

func TestLoginStreakSameLocalDayNonUTC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registerAndActivate(t, f, "manila@example.com")

	// Early-morning logins east of UTC land on the previous UTC date. Two
	// logins on one local day must not read as two calendar days.
	manila := time.FixedZone("UTC+8", 8*60*60)
	f.clock.Set(time.Date(2025, 3, 11, 7, 0, 0, 0, manila))

	res, err := f.login.Login(ctx, "manila@example.com", "hunter22")
	if err != nil {
		t.Fatalf("first Login: %v", err)
	}
	if res.Account.LoginStreak != 1 {
		t.Errorf("first login streak = %d, want 1", res.Account.LoginStreak)
	}

	f.clock.Advance(2 * time.Hour)
	res, err = f.login.Login(ctx, "manila@example.com", "hunter22")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if res.Account.LoginStreak != 1 {
		t.Errorf("same local day streak = %d, want 1", res.Account.LoginStreak)
	}
}

func TestNextStreak(t *testing.T) {
	day := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	// Stored timestamps come back as UTC while the clock runs server-local;
	// the comparison must anchor both to one calendar.
	manila := time.FixedZone("UTC+8", 8*60*60)
	morning := time.Date(2025, 3, 11, 9, 0, 0, 0, manila)

	cases := []struct {
		name      string
		current   int
		lastLogin time.Time
		now       time.Time
		want      int
	}{
		{"first login", 0, time.Time{}, day, 1},
		{"same day", 4, day.Add(-3 * time.Hour), day, 4},
		{"previous evening", 4, day.Add(-23 * time.Hour), day, 5},
		{"over a day ago", 4, day.Add(-25 * time.Hour), day, 1},
		{"zero streak same day", 0, day.Add(-time.Hour), day, 1},
		{"same local day across utc midnight", 3, morning.Add(-2 * time.Hour).UTC(), morning, 3},
		{"previous local day in utc terms", 3, morning.Add(-12 * time.Hour).UTC(), morning, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextStreak(tc.current, tc.lastLogin, tc.now); got != tc.want {
				t.Errorf("nextStreak(%d, %v, %v) = %d, want %d",
					tc.current, tc.lastLogin, tc.now, got, tc.want)
			}
		})
	}
}
