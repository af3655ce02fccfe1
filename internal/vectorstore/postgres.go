package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var _ Backend = (*PostgresBackend)(nil)

// PostgresBackend stores rows in PostgreSQL. When the pgvector extension is
// available each table also carries a fixed-width embedding column that is
// ranked server-side with the cosine distance operator.
type PostgresBackend struct {
	pool *pgxpool.Pool

	probeOnce sync.Once
	native    bool
}

// OpenPostgres connects to dsn and runs the registry migration.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect postgres: %w", err)
	}
	b := &PostgresBackend{pool: pool}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ` + registryTable + ` (
    name       TEXT    PRIMARY KEY,
    dimension  INTEGER NOT NULL,
    native     BOOLEAN NOT NULL DEFAULT FALSE
)`
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: migrate: %w", err)
	}
	return nil
}

// probeNative reports whether the vector type is usable, installing the
// extension when permitted. The answer is cached for the pool's lifetime.
func (b *PostgresBackend) probeNative(ctx context.Context) bool {
	b.probeOnce.Do(func() {
		_, err := b.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
		b.native = err == nil
	})
	return b.native
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) EnsureTable(ctx context.Context, table string, dim int) (TableInfo, error) {
	if info, ok, err := b.Info(ctx, table); err != nil || ok {
		return info, err
	}

	native := dim > 0 && b.probeNative(ctx)
	embeddingCol := ""
	if native {
		embeddingCol = fmt.Sprintf("embedding vector(%d),", dim)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    seq          BIGSERIAL,
    id           TEXT        PRIMARY KEY,
    content      TEXT        NOT NULL,
    vector_json  TEXT,
    %s
    file_name    TEXT,
    page_number  INTEGER,
    chunk_index  INTEGER,
    owner        TEXT,
    session      TEXT,
    kind         TEXT,
    attributes   TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table, embeddingCol)

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return TableInfo{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return TableInfo{}, fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s (created_at)`, table)); err != nil {
		return TableInfo{}, fmt.Errorf("create index: %w", err)
	}
	const reg = `INSERT INTO ` + registryTable + ` (name, dimension, native) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`
	if _, err := tx.Exec(ctx, reg, table, dim, native); err != nil {
		return TableInfo{}, fmt.Errorf("register table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return TableInfo{}, err
	}

	info, _, err := b.Info(ctx, table)
	return info, err
}

func (b *PostgresBackend) Info(ctx context.Context, table string) (TableInfo, bool, error) {
	const q = `SELECT dimension, native FROM ` + registryTable + ` WHERE name = $1`
	var info TableInfo
	err := b.pool.QueryRow(ctx, q, table).Scan(&info.Dimension, &info.Native)
	if errors.Is(err, pgx.ErrNoRows) {
		return TableInfo{}, false, nil
	}
	if err != nil {
		return TableInfo{}, false, fmt.Errorf("table info: %w", err)
	}
	return info, true, nil
}

func (b *PostgresBackend) Insert(ctx context.Context, table string, row Row) error {
	info, _, err := b.Info(ctx, table)
	if err != nil {
		return err
	}

	var vecJSON any
	if len(row.Vector) > 0 {
		s, err := EncodeVector(row.Vector)
		if err != nil {
			return err
		}
		vecJSON = s
	}
	args := []any{
		row.ID, row.Content, vecJSON, nullString(row.FileName), row.PageNumber, row.ChunkIndex,
		nullString(row.Owner), nullString(row.Session), nullString(row.Kind),
		encodeAttributes(row.Attributes), row.CreatedAt,
	}
	cols := "id, content, vector_json, file_name, page_number, chunk_index, owner, session, kind, attributes, created_at"
	vals := "$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11"
	if info.Native && len(row.Vector) > 0 {
		cols += ", embedding"
		vals += ", $12::vector"
		args = append(args, pgvector.NewVector(row.Vector))
	}

	_, err = b.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, cols, vals), args...)
	if isDimensionError(err) {
		return errors.Join(&DimensionError{Table: table, Want: info.Dimension, Got: len(row.Vector)}, err)
	}
	return err
}

// pgvector rejects a vector of the wrong width with SQLSTATE 22000
// (data_exception) and "expected N dimensions, not M".
const pgDataException = "22000"

func isDimensionError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgDataException &&
		strings.HasPrefix(pgErr.Message, "expected ") &&
		strings.Contains(pgErr.Message, " dimensions")
}

func (b *PostgresBackend) Recreate(ctx context.Context, table string, dim int) (TableInfo, error) {
	if err := b.Drop(ctx, table); err != nil {
		return TableInfo{}, err
	}
	return b.EnsureTable(ctx, table, dim)
}

func (b *PostgresBackend) NativeSearch(ctx context.Context, table string, query []float32, limit int, f Filter) ([]Result, error) {
	info, ok, err := b.Info(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok || !info.Native {
		return nil, ErrNativeUnsupported
	}

	where, args := filterClause(f, 3, pgPlaceholder, pgAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at, 1 - (embedding <=> $1::vector) AS similarity
FROM %s
WHERE embedding IS NOT NULL%s
ORDER BY embedding <=> $1::vector
LIMIT $2`, rowColumns, table, where)
	args = append([]any{pgvector.NewVector(query), limit}, args...)

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var sim float64
		r, err := scanPGRow(rows, &sim)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Row: r, Similarity: sim})
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Scan(ctx context.Context, table string, f Filter, fn func(Row) error) error {
	where, args := filterClause(f, 1, pgPlaceholder, pgAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at, vector_json FROM %s WHERE vector_json IS NOT NULL%s`, rowColumns, table, where)
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vecJSON *string
		r, err := scanPGRow(rows, &vecJSON)
		if err != nil {
			return err
		}
		if vecJSON != nil {
			if v, err := DecodeVector(*vecJSON); err == nil {
				r.Vector = v
			}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (b *PostgresBackend) FindContaining(ctx context.Context, table, token string, f Filter, limit int) ([]Row, error) {
	where, args := filterClause(f, 3, pgPlaceholder, pgAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at FROM %s WHERE strpos(lower(content), lower($1)) > 0%s ORDER BY seq DESC LIMIT $2`,
		rowColumns, table, where)
	return b.queryRows(ctx, q, append([]any{token, limit}, args...)...)
}

func (b *PostgresBackend) Recent(ctx context.Context, table string, f Filter, n int) ([]Row, error) {
	where, args := filterClause(f, 2, pgPlaceholder, pgAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at FROM %s WHERE TRUE%s ORDER BY created_at DESC, seq DESC LIMIT $1`,
		rowColumns, table, where)
	return b.queryRows(ctx, q, append([]any{n}, args...)...)
}

func (b *PostgresBackend) queryRows(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanPGRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanPGRow scans rowColumns plus created_at and any extra destinations.
func scanPGRow(rows pgx.Rows, extra ...any) (Row, error) {
	var (
		r                                 Row
		file, owner, session, kind, attrs *string
		page, chunk                       *int32
		created                           time.Time
	)
	dest := []any{&r.ID, &r.Content, &file, &page, &chunk, &owner, &session, &kind, &attrs, &created}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	r.FileName = deref(file)
	if page != nil {
		r.PageNumber = int(*page)
	}
	if chunk != nil {
		r.ChunkIndex = int(*chunk)
	}
	r.Owner, r.Session, r.Kind = deref(owner), deref(session), deref(kind)
	r.Attributes = decodeAttributes(deref(attrs))
	r.CreatedAt = created.UTC()
	return r, nil
}

func (b *PostgresBackend) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (b *PostgresBackend) Drop(ctx context.Context, table string) error {
	if _, err := b.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM `+registryTable+` WHERE name = $1`, table); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func pgAttribute(key string) string { return "(attributes::jsonb ->> " + key + ")" }
