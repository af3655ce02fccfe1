// Package vectorstore persists embedded fragments and ranks them against a
// query vector. A Store wraps one Backend and owns the behaviour that is the
// same everywhere: table-name validation, dimension bookkeeping, the one-shot
// destructive recreate on dimension mismatch, and native-then-fallback search.
//
// Backends differ in capability. Postgres with pgvector and Qdrant rank rows
// server-side; SQLite and the in-memory backend only keep the JSON-encoded
// vector and leave ranking to the Store.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNoData is returned by Search when the table is missing or empty.
	ErrNoData = errors.New("vectorstore: no data")
	// ErrDimensionMismatch matches every *DimensionError.
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	// ErrInvalidTable rejects table names that are not plain identifiers.
	ErrInvalidTable = errors.New("vectorstore: invalid table name")
	// ErrNativeUnsupported is returned by Backend.NativeSearch when the table
	// has no native vector column.
	ErrNativeUnsupported = errors.New("vectorstore: native search unsupported")
)

// DimensionError reports a vector whose length differs from the table's.
type DimensionError struct {
	Table string
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vectorstore: table %s expects %d dimensions, got %d", e.Table, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrDimensionMismatch) true.
func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTable returns ErrInvalidTable unless name is a safe SQL identifier.
func ValidateTable(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// Row is one stored fragment or memory record.
type Row struct {
	// ID is a UUID assigned by the Store on insert.
	ID string
	// Content is the fragment text. Never empty.
	Content string
	// Vector is the embedding. Nil for content-only rows, which are never
	// returned by vector search.
	Vector []float32
	// FileName is the source file for document fragments.
	FileName string
	// PageNumber is 1-based for paged formats and 0 otherwise.
	PageNumber int
	// ChunkIndex is the fragment position within its page.
	ChunkIndex int
	// Owner, Session and Kind scope memory records.
	Owner   string
	Session string
	Kind    string
	// Attributes holds free-form string metadata, persisted as a JSON object.
	Attributes map[string]string
	// CreatedAt is set by the Store on insert.
	CreatedAt time.Time
}

// Result is a ranked Row.
type Result struct {
	Row
	// Similarity is the cosine similarity to the query, nominally in [-1, 1].
	Similarity float64
}

// Filter narrows a query to rows whose non-empty fields match exactly.
type Filter struct {
	Owner   string
	Session string
	Kind    string
	// Attributes requires every listed key to be present in Row.Attributes
	// with exactly the given value.
	Attributes map[string]string
}

// match reports whether r satisfies f.
func (f Filter) match(r Row) bool {
	if (f.Owner != "" && f.Owner != r.Owner) ||
		(f.Session != "" && f.Session != r.Session) ||
		(f.Kind != "" && f.Kind != r.Kind) {
		return false
	}
	for k, v := range f.Attributes {
		if got, ok := r.Attributes[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// DefaultTopK is used when SearchOptions.TopK is not positive.
const DefaultTopK = 4

// SearchOptions controls Store.Search.
type SearchOptions struct {
	// TopK caps the number of results.
	TopK int
	// Threshold, when set, drops results whose similarity is below it. Nil
	// keeps every candidate, negative similarities included.
	Threshold *float64
	// Filter narrows the candidate rows.
	Filter Filter
}

// MinSimilarity returns a threshold for SearchOptions.
func MinSimilarity(v float64) *float64 { return &v }

// TableInfo describes a table known to a backend.
type TableInfo struct {
	// Dimension is the vector length fixed at creation.
	Dimension int
	// Native is true when the backend stores a fixed-width vector column
	// and can rank rows server-side.
	Native bool
}

// Backend is a storage engine for Store. Implementations must be safe for
// concurrent use and may assume table names were validated.
type Backend interface {
	// Name identifies the backend in logs ("postgres", "sqlite", ...).
	Name() string
	// EnsureTable creates table with dimension dim if it does not exist and
	// returns its info. An existing table is left untouched.
	EnsureTable(ctx context.Context, table string, dim int) (TableInfo, error)
	// Info returns the table's info and whether it exists.
	Info(ctx context.Context, table string) (TableInfo, bool, error)
	// Insert writes row. A native write rejected for its vector length
	// returns a *DimensionError.
	Insert(ctx context.Context, table string, row Row) error
	// Recreate drops table with all its rows and creates it with dim.
	Recreate(ctx context.Context, table string, dim int) (TableInfo, error)
	// NativeSearch ranks rows server-side, most similar first, returning at
	// most limit results. It returns ErrNativeUnsupported when the table has
	// no native column.
	NativeSearch(ctx context.Context, table string, query []float32, limit int, f Filter) ([]Result, error)
	// Scan calls fn for each row that has a stored vector. Rows whose stored
	// vector cannot be decoded are passed with a nil Vector.
	Scan(ctx context.Context, table string, f Filter, fn func(Row) error) error
	// FindContaining returns up to limit rows whose content contains token,
	// ignoring case where the engine allows it.
	FindContaining(ctx context.Context, table, token string, f Filter, limit int) ([]Row, error)
	// Recent returns up to n rows, newest first.
	Recent(ctx context.Context, table string, f Filter, n int) ([]Row, error)
	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int, error)
	// Drop removes table and its rows. Dropping a missing table is not an error.
	Drop(ctx context.Context, table string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases connections.
	Close() error
}
