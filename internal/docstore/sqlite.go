package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Blank import: registers the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// SQLite is a Document Store backed by a single SQLite database. Documents
// are stored as JSON in one table keyed by (collection, key); field filters
// compile to json_extract expressions.
//
// SQLite's WAL mode plus BEGIN IMMEDIATE gives RunTransaction the
// serializable, retry-on-conflict semantics the contract requires: writers
// serialize against each other, and a busy sibling surfaces as SQLITE_BUSY
// which we retry.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the document database at path. Use ":memory:" for
// an in-memory store in tests.
func Open(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pool connection to :memory: opens its own empty database;
		// a single connection keeps them all on the same one.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: pinging database: %w", err)
	}

	// WAL lets readers proceed while a transaction writes; busy_timeout
	// makes short lock contention invisible to callers.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("docstore: %s: %w", pragma, err)
		}
	}

	s := &SQLite{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// dbtx abstracts over *sql.DB and *sql.Tx so the read/write helpers work
// both standalone and inside RunTransaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q dbtx, collection, key string) (*Document, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: getting %s/%s: %w", collection, key, err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("docstore: decoding %s/%s: %w", collection, key, err)
	}
	return &Document{Key: key, Data: data}, nil
}

func setDoc(ctx context.Context, q dbtx, collection, key string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("docstore: encoding %s/%s: %w", collection, key, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET data = excluded.data`,
		collection, key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("docstore: setting %s/%s: %w", collection, key, err)
	}
	return nil
}

func updateDoc(ctx context.Context, q dbtx, collection, key string, fields map[string]any) error {
	doc, err := getDoc(ctx, q, collection, key)
	if err != nil {
		return err
	}
	for field, value := range fields {
		if value == nil {
			delete(doc.Data, field)
			continue
		}
		doc.Data[field] = value
	}
	return setDoc(ctx, q, collection, key, doc.Data)
}

func deleteDoc(ctx context.Context, q dbtx, collection, key string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("docstore: deleting %s/%s: %w", collection, key, err)
	}
	return nil
}

// encodeFilterValue converts a filter value to the form json_extract yields
// for the stored JSON: timestamps to RFC3339 UTC strings, booleans to the
// 0/1 integers SQLite uses for JSON true/false.
func encodeFilterValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return EncodeTime(t)
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return v
}

func queryDocs(ctx context.Context, q dbtx, collection string, limit int, filters []Filter) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT key, data FROM documents WHERE collection = ?`)
	args := []any{collection}

	for _, f := range filters {
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return nil, fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
		op := string(f.Op)
		if f.Op == OpEqual {
			op = "="
		}
		fmt.Fprintf(&sb, ` AND json_extract(data, ?) %s ?`, op)
		args = append(args, "$."+f.Field, encodeFilterValue(f.Value))
	}

	sb.WriteString(` ORDER BY key`)
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: querying %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("docstore: scanning %s: %w", collection, err)
		}
		data := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("docstore: decoding %s/%s: %w", collection, key, err)
		}
		docs = append(docs, Document{Key: key, Data: data})
	}
	return docs, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, collection, key string) (*Document, error) {
	return getDoc(ctx, s.conn, collection, key)
}

func (s *SQLite) Query(ctx context.Context, collection string, limit int, filters ...Filter) ([]Document, error) {
	return queryDocs(ctx, s.conn, collection, limit, filters)
}

func (s *SQLite) Set(ctx context.Context, collection, key string, data map[string]any) error {
	return setDoc(ctx, s.conn, collection, key, data)
}

// Update outside a transaction still needs read-merge-write atomicity, so it
// runs in its own transaction.
func (s *SQLite) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Update(ctx, collection, key, fields)
	})
}

func (s *SQLite) Delete(ctx context.Context, collection, key string) error {
	return deleteDoc(ctx, s.conn, collection, key)
}

// sqliteTx adapts a *sql.Tx to the Tx contract.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, collection, key string) (*Document, error) {
	return getDoc(ctx, t.tx, collection, key)
}

func (t *sqliteTx) Query(ctx context.Context, collection string, limit int, filters ...Filter) ([]Document, error) {
	return queryDocs(ctx, t.tx, collection, limit, filters)
}

func (t *sqliteTx) Set(ctx context.Context, collection, key string, data map[string]any) error {
	return setDoc(ctx, t.tx, collection, key, data)
}

func (t *sqliteTx) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	return updateDoc(ctx, t.tx, collection, key, fields)
}

func (t *sqliteTx) Delete(ctx context.Context, collection, key string) error {
	return deleteDoc(ctx, t.tx, collection, key)
}

// txAttempts bounds retry-on-conflict before the conflict is surfaced.
const txAttempts = 5

func (s *SQLite) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("docstore: transaction conflict persisted after %d attempts: %w", txAttempts, lastErr)
}

func (s *SQLite) runOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: beginning transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: committing transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// sqliteBatch queues writes and commits them in one transaction.
type sqliteBatch struct {
	store *SQLite
	ops   []func(ctx context.Context, q dbtx) error
}

func (s *SQLite) NewBatch() Batch {
	return &sqliteBatch{store: s}
}

func (b *sqliteBatch) Set(collection, key string, data map[string]any) {
	b.ops = append(b.ops, func(ctx context.Context, q dbtx) error {
		return setDoc(ctx, q, collection, key, data)
	})
}

func (b *sqliteBatch) Update(collection, key string, fields map[string]any) {
	b.ops = append(b.ops, func(ctx context.Context, q dbtx) error {
		err := updateDoc(ctx, q, collection, key, fields)
		if errors.Is(err, ErrNotFound) {
			// Batches are used for idempotent fan-outs; a vanished
			// target is a satisfied postcondition, not a failure.
			return nil
		}
		return err
	})
}

func (b *sqliteBatch) Delete(collection, key string) {
	b.ops = append(b.ops, func(ctx context.Context, q dbtx) error {
		return deleteDoc(ctx, q, collection, key)
	})
}

func (b *sqliteBatch) Len() int {
	return len(b.ops)
}

func (b *sqliteBatch) Commit(ctx context.Context) error {
	if len(b.ops) > MaxBatchOps {
		return fmt.Errorf("docstore: batch of %d operations exceeds the %d-op ceiling", len(b.ops), MaxBatchOps)
	}
	return b.store.RunTransaction(ctx, func(tx Tx) error {
		inner := tx.(*sqliteTx)
		for _, op := range b.ops {
			if err := op(ctx, inner.tx); err != nil {
				return err
			}
		}
		return nil
	})
}
