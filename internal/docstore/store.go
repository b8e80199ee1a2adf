// Package docstore defines the Document Store capability the backend is built
// on: per-collection documents addressed by string key, field-equality queries,
// serializable transactions, and size-capped batch writes.
//
// The production system runs against a managed document database; this package
// captures exactly the subset of its API the backend uses so that the services
// depend on a small contract instead of a vendor SDK. The sqlite adapter in
// this package (sqlite.go) implements the same contract for self-hosted
// deployments and for tests.
//
// DOCUMENT VALUES:
// Documents are schemaless maps. Values round-trip through JSON, so after a
// read, numbers are float64, timestamps are RFC3339 strings, and nested maps
// are map[string]any. The typed accessors below (String, Int, Time, ...)
// absorb that so callers never touch the raw representation.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no document exists at the key.
var ErrNotFound = errors.New("docstore: document not found")

// MaxBatchOps is the hard per-batch operation ceiling of the backing store.
// Callers that fan out over large result sets must chunk below this; the
// migration and deletion engines chunk at 400 to keep a safety margin.
const MaxBatchOps = 500

// Document is a single stored document: its key within the collection plus
// its decoded field map.
type Document struct {
	Key  string
	Data map[string]any
}

// Op is a comparison operator usable in a query filter.
type Op string

const (
	OpEqual        Op = "=="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter restricts a query to documents whose field compares true against
// the value. Time values are compared in their encoded RFC3339 form.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter. Reads like the query it produces:
//
//	store.Query(ctx, "users", docstore.Where("email", docstore.OpEqual, email))
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Reader is the read half of the store. Both the store itself and an open
// transaction satisfy it.
type Reader interface {
	// Get returns the document at key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (*Document, error)
	// Query returns documents matching every filter. A limit of 0 means
	// no limit. Results are ordered by key for determinism.
	Query(ctx context.Context, collection string, limit int, filters ...Filter) ([]Document, error)
}

// Writer is the write half of the store.
type Writer interface {
	// Set creates or fully replaces the document at key.
	Set(ctx context.Context, collection, key string, data map[string]any) error
	// Update merges fields into an existing document. A nil field value
	// clears that field. Returns ErrNotFound if the document is absent.
	Update(ctx context.Context, collection, key string, fields map[string]any) error
	// Delete removes the document. Deleting an absent document is not an
	// error, the postcondition already holds.
	Delete(ctx context.Context, collection, key string) error
}

// Tx is the view of the store inside RunTransaction. Every read and write
// through it belongs to one serializable transaction.
type Tx interface {
	Reader
	Writer
}

// Batch accumulates writes that commit atomically in one shot, up to
// MaxBatchOps operations. Unlike a transaction it performs no reads, which is
// what makes it suitable for large idempotent fan-outs.
type Batch interface {
	Set(collection, key string, data map[string]any)
	Update(collection, key string, fields map[string]any)
	Delete(collection, key string)
	// Len reports the number of queued operations.
	Len() int
	// Commit applies all queued operations atomically. It fails without
	// applying anything if more than MaxBatchOps are queued.
	Commit(ctx context.Context) error
}

// Store is the full Document Store capability.
type Store interface {
	Reader
	Writer
	// RunTransaction executes fn inside a serializable transaction,
	// retrying on conflict. If fn returns an error the transaction is
	// rolled back and the error is returned unchanged.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	// NewBatch returns an empty write batch.
	NewBatch() Batch
}

// timeLayout is RFC3339 with a fixed-width nanosecond fraction. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering between values
// sharing a whole second ("...00.12Z" sorts after "...00.123Z"). A constant
// width keeps string comparison chronological at every granularity.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EncodeTime converts a timestamp to the canonical stored representation:
// RFC3339 with nine fractional digits, UTC. Encoding in UTC with a fixed
// width keeps lexicographic comparison consistent with chronological order,
// which the range filters rely on.
func EncodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// String reads a string field; absent or differently typed values yield "".
func String(data map[string]any, field string) string {
	s, _ := data[field].(string)
	return s
}

// Bool reads a boolean field; absent values yield false.
func Bool(data map[string]any, field string) bool {
	b, _ := data[field].(bool)
	return b
}

// Int reads a numeric field. JSON decoding produces float64, but values set
// in-process may still be int; both are handled.
func Int(data map[string]any, field string) int {
	switch v := data[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Float reads a numeric field as float64.
func Float(data map[string]any, field string) float64 {
	switch v := data[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time reads a timestamp field. Returns the zero time if the field is
// absent, null, or not a parseable RFC3339 string. The RFC3339Nano layout
// accepts any fraction width, so values written before the encoding gained
// its fixed-width fraction still parse.
func Time(data map[string]any, field string) time.Time {
	switch v := data[field].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
