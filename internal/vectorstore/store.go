package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecreatePolicy decides what Insert does when a vector does not fit the
// table's dimension.
type RecreatePolicy int

const (
	// RecreateOnce drops and recreates the table with the new dimension the
	// first time a mismatch is seen for it, discarding every existing row.
	// A later mismatch on the same table is returned to the caller.
	RecreateOnce RecreatePolicy = iota
	// RecreateNever always returns the mismatch to the caller.
	RecreateNever
)

// Options configures a Store.
type Options struct {
	// Dimension is the vector length used when creating tables.
	Dimension int
	// Recreate selects the dimension-mismatch policy.
	Recreate RecreatePolicy
	// Logger receives recreate and fallback events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Store is the vector store used by ingestion, search and memory. It is safe
// for concurrent use. A destructive recreate can invalidate searches running
// concurrently against the same table.
type Store struct {
	backend Backend
	dim     int
	policy  RecreatePolicy
	log     *slog.Logger

	mu     sync.Mutex
	tables map[string]TableInfo
	healed map[string]bool
}

// New returns a Store over backend.
func New(backend Backend, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		backend: backend,
		dim:     opts.Dimension,
		policy:  opts.Recreate,
		log:     log.With(slog.String("backend", backend.Name())),
		tables:  make(map[string]TableInfo),
		healed:  make(map[string]bool),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Dimension returns the dimension used for new tables.
func (s *Store) Dimension() int { return s.dim }

// EnsureTable creates table if it is absent. Calling it again is a no-op.
func (s *Store) EnsureTable(ctx context.Context, table string) (TableInfo, error) {
	if err := ValidateTable(table); err != nil {
		return TableInfo{}, err
	}
	info, err := s.backend.EnsureTable(ctx, table, s.dim)
	if err != nil {
		return TableInfo{}, fmt.Errorf("vectorstore: ensure table %s: %w", table, err)
	}
	s.remember(table, info)
	return info, nil
}

func (s *Store) remember(table string, info TableInfo) {
	s.mu.Lock()
	s.tables[table] = info
	s.mu.Unlock()
}

func (s *Store) forget(table string) {
	s.mu.Lock()
	delete(s.tables, table)
	s.mu.Unlock()
}

// tableInfo returns cached info, creating the table on first use. cached
// reports whether the answer came from the cache.
func (s *Store) tableInfo(ctx context.Context, table string) (info TableInfo, cached bool, err error) {
	s.mu.Lock()
	info, ok := s.tables[table]
	s.mu.Unlock()
	if ok {
		return info, true, nil
	}
	info, err = s.EnsureTable(ctx, table)
	return info, false, err
}

// Insert stores row in table and returns its new ID. Rows with no vector are
// stored content-only. When the vector does not fit the table and the policy
// allows it, the table is recreated with the vector's dimension and the
// insert retried once; that discards every row previously in the table.
func (s *Store) Insert(ctx context.Context, table string, row Row) (string, error) {
	if err := ValidateTable(table); err != nil {
		return "", err
	}
	if row.Content == "" {
		return "", fmt.Errorf("vectorstore: insert into %s: empty content", table)
	}
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := s.insertChecked(ctx, table, row)
	if err == nil {
		return row.ID, nil
	}
	if !errors.Is(err, ErrDimensionMismatch) {
		return "", err
	}
	if err := s.heal(ctx, table, len(row.Vector), err); err != nil {
		return "", err
	}
	if err := s.insertChecked(ctx, table, row); err != nil {
		return "", fmt.Errorf("vectorstore: insert into %s after recreate: %w", table, err)
	}
	return row.ID, nil
}

// insertChecked enforces the recorded dimension before handing row to the
// backend, so engines without a native column reject mismatches too. A
// cached table that was dropped behind the Store's back (another process,
// `docsearch reset`) is evicted, created again and the insert retried once.
func (s *Store) insertChecked(ctx context.Context, table string, row Row) error {
	info, cached, err := s.tableInfo(ctx, table)
	if err != nil {
		return err
	}
	err = s.insertInto(ctx, table, info, row)
	if err == nil || !cached || errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	if _, exists, ierr := s.backend.Info(ctx, table); ierr != nil || exists {
		return err
	}

	s.log.Warn("cached table no longer exists, creating it again",
		slog.String("table", table),
		slog.String("cause", err.Error()),
	)
	s.forget(table)
	if info, err = s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return s.insertInto(ctx, table, info, row)
}

func (s *Store) insertInto(ctx context.Context, table string, info TableInfo, row Row) error {
	if len(row.Vector) > 0 && info.Dimension > 0 && len(row.Vector) != info.Dimension {
		return &DimensionError{Table: table, Want: info.Dimension, Got: len(row.Vector)}
	}
	if err := s.backend.Insert(ctx, table, row); err != nil {
		return fmt.Errorf("vectorstore: insert into %s: %w", table, err)
	}
	return nil
}

// heal performs the one destructive recreate a table is allowed.
func (s *Store) heal(ctx context.Context, table string, dim int, cause error) error {
	if s.policy == RecreateNever {
		return fmt.Errorf("%w (recreate disabled)", cause)
	}

	s.mu.Lock()
	if s.healed[table] {
		s.mu.Unlock()
		return fmt.Errorf("%w (table already recreated once)", cause)
	}
	s.healed[table] = true
	old := s.tables[table]
	s.mu.Unlock()

	s.log.Error("dimension mismatch: dropping and recreating table, all existing rows are lost",
		slog.String("table", table),
		slog.Int("old_dimension", old.Dimension),
		slog.Int("new_dimension", dim),
		slog.String("cause", cause.Error()),
	)

	info, err := s.backend.Recreate(ctx, table, dim)
	if err != nil {
		return fmt.Errorf("vectorstore: recreate %s: %w", table, err)
	}
	s.remember(table, info)
	return nil
}

// Search ranks the rows of table against query. It returns ErrNoData when the
// table is missing or empty, and an empty non-nil slice when nothing clears
// the threshold. The native path is tried first; on absence or failure every
// stored vector is compared in process and rows of another length are skipped.
func (s *Store) Search(ctx context.Context, table string, query []float32, opts SearchOptions) ([]Result, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	info, exists, err := s.backend.Info(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", table, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: table %s does not exist", ErrNoData, table)
	}
	n, err := s.backend.Count(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", table, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: table %s is empty", ErrNoData, table)
	}

	var results []Result
	native := false
	if info.Native {
		results, err = s.backend.NativeSearch(ctx, table, query, opts.TopK, opts.Filter)
		switch {
		case err == nil:
			native = true
		case errors.Is(err, ErrNativeUnsupported):
		default:
			s.log.Warn("native search failed, falling back to in-process cosine",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
		}
	}
	if !native {
		results, err = s.scanSearch(ctx, table, query, opts.Filter)
		if err != nil {
			return nil, err
		}
	}

	return rank(results, opts.Threshold, opts.TopK), nil
}

// scanSearch is the fallback path: every stored vector is scored in process.
func (s *Store) scanSearch(ctx context.Context, table string, query []float32, f Filter) ([]Result, error) {
	var (
		results []Result
		skipped int
	)
	err := s.backend.Scan(ctx, table, f, func(r Row) error {
		if len(r.Vector) != len(query) {
			skipped++
			return nil
		}
		results = append(results, Result{Row: r, Similarity: Cosine(query, r.Vector)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan %s: %w", table, err)
	}
	if skipped > 0 {
		s.log.Warn("skipped rows whose vector length differs from the query",
			slog.String("table", table),
			slog.Int("skipped", skipped),
			slog.Int("query_dimension", len(query)),
		)
	}
	return results, nil
}

// rank applies the optional threshold, orders by descending similarity and
// truncates to topK.
func rank(results []Result, threshold *float64, topK int) []Result {
	out := make([]Result, 0, min(len(results), topK))
	for _, r := range results {
		if threshold == nil || r.Similarity >= *threshold {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// FindContaining returns up to limit rows of table whose content contains
// token. A missing table yields no rows.
func (s *Store) FindContaining(ctx context.Context, table, token string, f Filter, limit int) ([]Row, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if _, exists, err := s.backend.Info(ctx, table); err != nil || !exists {
		return nil, err
	}
	rows, err := s.backend.FindContaining(ctx, table, token, f, limit)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: find %q in %s: %w", token, table, err)
	}
	return rows, nil
}

// Recent returns up to n rows of table, newest first.
func (s *Store) Recent(ctx context.Context, table string, f Filter, n int) ([]Row, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if _, exists, err := s.backend.Info(ctx, table); err != nil || !exists {
		return nil, err
	}
	rows, err := s.backend.Recent(ctx, table, f, n)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: recent %s: %w", table, err)
	}
	return rows, nil
}

// Count returns the number of rows in table, or 0 when it does not exist.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}
	if _, exists, err := s.backend.Info(ctx, table); err != nil || !exists {
		return 0, err
	}
	return s.backend.Count(ctx, table)
}

// Drop removes table and forgets its recreate history.
func (s *Store) Drop(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if err := s.backend.Drop(ctx, table); err != nil {
		return fmt.Errorf("vectorstore: drop %s: %w", table, err)
	}
	s.mu.Lock()
	delete(s.tables, table)
	delete(s.healed, table)
	s.mu.Unlock()
	s.log.Warn("table dropped", slog.String("table", table))
	return nil
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }
