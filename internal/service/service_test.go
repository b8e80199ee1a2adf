package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/mail"
	"github.com/sakif/pathfit-backend/internal/model"
)

// fakeClock lets tests move time forward past expiry windows and lockouts.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fakeRelay records outgoing mail and can be told to fail.
type fakeRelay struct {
	mu   sync.Mutex
	sent []mail.Message
	fail bool
}

func (f *fakeRelay) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("relay down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeRelay) last() mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// fixture wires every service against in-memory stores, a recording relay,
// and a controllable clock.
type fixture struct {
	docs     *docstore.SQLite
	idp      *identity.SQLite
	relay    *fakeRelay
	disp     *mail.Dispatcher
	clock    *fakeClock
	reg      *RegistrationService
	login    *LoginService
	accounts *AccountService

	drainOnce sync.Once
}

func newFixture(t *testing.T) *fixture {
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
	passwords := identity.NewPasswordServiceForTest(4)
	idp, err := identity.OpenSQLite(":memory:", tokens, passwords)
	if err != nil {
		t.Fatalf("identity.OpenSQLite: %v", err)
	}
	t.Cleanup(func() { idp.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := &fakeRelay{}
	f := &fixture{
		docs:  docs,
		idp:   idp,
		relay: relay,
		disp:  mail.NewDispatcher(relay, logger),
		clock: &fakeClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)},
	}
	t.Cleanup(f.drainMail)

	f.reg = NewRegistrationService(docs, idp, passwords, relay, f.disp, DefaultRegistrationPolicy(), logger)
	f.reg.now = f.clock.Now
	f.login = NewLoginService(docs, idp, DefaultLoginPolicy(), logger)
	f.login.now = f.clock.Now
	f.accounts = NewAccountService(docs, idp, logger)
	f.accounts.now = f.clock.Now
	return f
}

// drainMail closes the dispatcher so every enqueued message is delivered (or
// given up on) before the test inspects the relay.
func (f *fixture) drainMail() {
	f.drainOnce.Do(f.disp.Close)
}

func validRegistration(email string) RegisterInput {
	return RegisterInput{
		Email:     email,
		Password:  "hunter22",
		FirstName: "Maria",
		LastName:  "Santos",
		Age:       19,
		Gender:    "female",
		Course:    "BS Computer Science",
		Year:      "1",
		Section:   "A",
		Height:    160,
		Weight:    52,
		BMI:       20.3,
		BMIResult: "Normal",
	}
}

// registerAndActivate runs the full happy path and returns the new UID.
func registerAndActivate(t *testing.T, f *fixture, email string) string {
	t.Helper()
	ctx := context.Background()

	if _, err := f.reg.Register(ctx, validRegistration(email)); err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	doc, err := f.docs.Get(ctx, model.UsersCollection, NormalizeEmail(email))
	if err != nil {
		t.Fatalf("pending doc: %v", err)
	}
	code := docstore.String(doc.Data, "verificationCode")

	res, err := f.reg.VerifyAndActivate(ctx, email, code)
	if err != nil {
		t.Fatalf("VerifyAndActivate(%s): %v", email, err)
	}
	return res.UID
}

// mustKind fails the test unless err wraps the given sentinel.
func mustKind(t *testing.T, err, sentinel error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error wrapping %v, got nil", sentinel)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected error wrapping %v, got %v", sentinel, err)
	}
}
