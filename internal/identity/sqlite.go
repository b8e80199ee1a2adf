package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// SQLite is a self-hosted Provider backed by its own SQLite database,
// separate from the document store: identity and profile data never share a
// failure domain, matching the managed platform this adapter stands in for.
type SQLite struct {
	conn      *sql.DB
	tokens    *TokenService
	passwords *PasswordService
}

var _ Provider = (*SQLite)(nil)

// OpenSQLite opens (or creates) the identity database at path and wires in
// the token and password services. Use ":memory:" in tests.
func OpenSQLite(path string, tokens *TokenService, passwords *PasswordService) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("identity: opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pool connection to :memory: opens its own empty database;
		// a single connection keeps them all on the same one.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identity: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("identity: %s: %w", pragma, err)
		}
	}

	p := &SQLite{conn: conn, tokens: tokens, passwords: passwords}
	if err := p.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identity: running migrations: %w", err)
	}

	return p, nil
}

// Close closes the database connection pool.
func (p *SQLite) Close() error {
	return p.conn.Close()
}

func (p *SQLite) migrate() error {
	_, err := p.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			uid                TEXT PRIMARY KEY,
			email              TEXT NOT NULL UNIQUE,
			password_hash      TEXT NOT NULL,
			display_name       TEXT NOT NULL DEFAULT '',
			email_verified     INTEGER NOT NULL DEFAULT 0,
			disabled           INTEGER NOT NULL DEFAULT 0,
			tokens_valid_after DATETIME,
			created_at         DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}
	return nil
}

func (p *SQLite) CreateAccount(ctx context.Context, acct NewAccount) (string, error) {
	// The UNIQUE constraint on email is the real duplicate guard: a
	// concurrent create slips past any prior lookup, so the constraint
	// violation itself maps to the typed error.
	uid := xid.New().String()
	_, err := p.conn.ExecContext(ctx,
		`INSERT INTO accounts (uid, email, password_hash, display_name, email_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uid, acct.Email, acct.PasswordHash, acct.DisplayName, acct.EmailVerified, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrEmailExists
		}
		return "", fmt.Errorf("identity: creating account for %s: %w", acct.Email, err)
	}

	return uid, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
}

func (p *SQLite) scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.UID, &r.Email, &r.DisplayName, &r.EmailVerified, &r.Disabled, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: scanning account: %w", err)
	}
	return &r, nil
}

const recordColumns = `uid, email, display_name, email_verified, disabled, created_at`

func (p *SQLite) LookupByEmail(ctx context.Context, email string) (*Record, error) {
	return p.scanRecord(p.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM accounts WHERE email = ?`, email))
}

func (p *SQLite) LookupByUID(ctx context.Context, uid string) (*Record, error) {
	return p.scanRecord(p.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM accounts WHERE uid = ?`, uid))
}

func (p *SQLite) VerifyPassword(ctx context.Context, uid, password string) error {
	var hash string
	err := p.conn.QueryRowContext(ctx,
		`SELECT password_hash FROM accounts WHERE uid = ?`, uid,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("identity: loading hash for %s: %w", uid, err)
	}

	return p.passwords.Verify(hash, password)
}

func (p *SQLite) DeleteAccount(ctx context.Context, uid string) error {
	res, err := p.conn.ExecContext(ctx, `DELETE FROM accounts WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("identity: deleting account %s: %w", uid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLite) ListAccounts(ctx context.Context, pageToken string, pageSize int) ([]Record, string, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	// Keyset pagination: the page token is the last UID of the previous
	// page, which stays stable under concurrent inserts.
	rows, err := p.conn.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM accounts WHERE uid > ? ORDER BY uid LIMIT ?`,
		pageToken, pageSize,
	)
	if err != nil {
		return nil, "", fmt.Errorf("identity: listing accounts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.UID, &r.Email, &r.DisplayName, &r.EmailVerified, &r.Disabled, &r.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("identity: scanning account: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(records) == pageSize {
		next = records[len(records)-1].UID
	}
	return records, next, nil
}

func (p *SQLite) IssueCustomToken(ctx context.Context, uid string) (string, error) {
	if _, err := p.LookupByUID(ctx, uid); err != nil {
		return "", err
	}
	return p.tokens.Generate(uid)
}

func (p *SQLite) VerifyCustomToken(ctx context.Context, token string) (string, error) {
	uid, issuedAt, err := p.tokens.Validate(token)
	if err != nil {
		return "", err
	}

	var validAfter sql.NullTime
	err = p.conn.QueryRowContext(ctx,
		`SELECT tokens_valid_after FROM accounts WHERE uid = ?`, uid,
	).Scan(&validAfter)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("identity: checking revocation for %s: %w", uid, err)
	}

	// JWT issue times carry second precision; truncate the cut to match.
	// Tokens issued at or before the revocation second are rejected.
	if validAfter.Valid && !issuedAt.After(validAfter.Time.Truncate(time.Second)) {
		return "", ErrTokenRevoked
	}

	return uid, nil
}

func (p *SQLite) RevokeSessions(ctx context.Context, uid string) error {
	res, err := p.conn.ExecContext(ctx,
		`UPDATE accounts SET tokens_valid_after = ? WHERE uid = ?`,
		time.Now().UTC(), uid,
	)
	if err != nil {
		return fmt.Errorf("identity: revoking sessions for %s: %w", uid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
