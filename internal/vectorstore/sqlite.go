package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend stores vectors as JSON text in a local SQLite file. SQLite
// has no vector type, so search always takes the in-process path.
type SQLiteBackend struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultSQLitePath returns ~/.docsearch/vectors.db, creating the directory
// if needed.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vectorstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docsearch")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("vectorstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "vectors.db"), nil
}

// OpenSQLite opens (or creates) the database at path and runs the registry
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", path, err)
	}
	// One connection: serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// migrate creates the registry table if it does not already exist.
func (b *SQLiteBackend) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ` + registryTable + ` (
    name       TEXT    PRIMARY KEY,
    dimension  INTEGER NOT NULL,
    native     INTEGER NOT NULL DEFAULT 0
);`
	if _, err := b.db.Exec(ddl); err != nil {
		return fmt.Errorf("vectorstore: migrate: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) EnsureTable(ctx context.Context, table string, dim int) (TableInfo, error) {
	if info, ok, err := b.Info(ctx, table); err != nil || ok {
		return info, err
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id           TEXT    PRIMARY KEY,
    content      TEXT    NOT NULL,
    vector_json  TEXT,
    file_name    TEXT,
    page_number  INTEGER,
    chunk_index  INTEGER,
    owner        TEXT,
    session      TEXT,
    kind         TEXT,
    attributes   TEXT,
    created_at   INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s (created_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_owner ON %[1]s (owner, session);`, table)
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return TableInfo{}, fmt.Errorf("create table: %w", err)
	}

	const reg = `INSERT OR IGNORE INTO ` + registryTable + ` (name, dimension, native) VALUES (?, ?, 0)`
	if _, err := b.db.ExecContext(ctx, reg, table, dim); err != nil {
		return TableInfo{}, fmt.Errorf("register table: %w", err)
	}
	info, _, err := b.Info(ctx, table)
	return info, err
}

func (b *SQLiteBackend) Info(ctx context.Context, table string) (TableInfo, bool, error) {
	const q = `SELECT dimension, native FROM ` + registryTable + ` WHERE name = ?`
	var (
		info   TableInfo
		native int
	)
	err := b.db.QueryRowContext(ctx, q, table).Scan(&info.Dimension, &native)
	if errors.Is(err, sql.ErrNoRows) {
		return TableInfo{}, false, nil
	}
	if err != nil {
		return TableInfo{}, false, fmt.Errorf("table info: %w", err)
	}
	info.Native = native != 0
	return info, true, nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, table string, row Row) error {
	var vec any
	if len(row.Vector) > 0 {
		s, err := EncodeVector(row.Vector)
		if err != nil {
			return err
		}
		vec = s
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, content, vector_json, file_name, page_number, chunk_index, owner, session, kind, attributes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
	_, err := b.db.ExecContext(ctx, q,
		row.ID, row.Content, vec, nullString(row.FileName), row.PageNumber, row.ChunkIndex,
		nullString(row.Owner), nullString(row.Session), nullString(row.Kind),
		encodeAttributes(row.Attributes), row.CreatedAt.UnixNano(),
	)
	return err
}

func (b *SQLiteBackend) Recreate(ctx context.Context, table string, dim int) (TableInfo, error) {
	if err := b.Drop(ctx, table); err != nil {
		return TableInfo{}, err
	}
	return b.EnsureTable(ctx, table, dim)
}

func (b *SQLiteBackend) NativeSearch(context.Context, string, []float32, int, Filter) ([]Result, error) {
	return nil, ErrNativeUnsupported
}

func (b *SQLiteBackend) Scan(ctx context.Context, table string, f Filter, fn func(Row) error) error {
	where, args := filterClause(f, 1, sqlitePlaceholder, sqliteAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at, vector_json FROM %s WHERE vector_json IS NOT NULL%s`, rowColumns, table, where)
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vecJSON sql.NullString
		r, err := scanSQLiteRow(rows, &vecJSON)
		if err != nil {
			return err
		}
		if v, err := DecodeVector(vecJSON.String); err == nil {
			r.Vector = v
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (b *SQLiteBackend) FindContaining(ctx context.Context, table, token string, f Filter, limit int) ([]Row, error) {
	where, args := filterClause(f, 2, sqlitePlaceholder, sqliteAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at FROM %s WHERE instr(lower(content), lower(?)) > 0%s ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		rowColumns, table, where)
	args = append([]any{token}, args...)
	args = append(args, limit)
	return b.queryRows(ctx, q, args...)
}

func (b *SQLiteBackend) Recent(ctx context.Context, table string, f Filter, n int) ([]Row, error) {
	where, args := filterClause(f, 1, sqlitePlaceholder, sqliteAttribute)
	q := fmt.Sprintf(`SELECT %s, created_at FROM %s WHERE 1 = 1%s ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		rowColumns, table, where)
	args = append(args, n)
	return b.queryRows(ctx, q, args...)
}

func (b *SQLiteBackend) queryRows(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanSQLiteRow scans rowColumns plus created_at and any extra destinations.
func scanSQLiteRow(rows *sql.Rows, extra ...any) (Row, error) {
	var (
		r                          Row
		file, owner, session, kind sql.NullString
		attrs                      sql.NullString
		page, chunk                sql.NullInt64
		created                    int64
	)
	dest := []any{&r.ID, &r.Content, &file, &page, &chunk, &owner, &session, &kind, &attrs, &created}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}
	r.FileName = file.String
	r.PageNumber = int(page.Int64)
	r.ChunkIndex = int(chunk.Int64)
	r.Owner, r.Session, r.Kind = owner.String, session.String, kind.String
	r.Attributes = decodeAttributes(attrs.String)
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}

func (b *SQLiteBackend) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) Drop(ctx context.Context, table string) error {
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM `+registryTable+` WHERE name = ?`, table); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	return nil
}

// Ping verifies the database file is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (b *SQLiteBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("vectorstore: close: %w", err)
	}
	return nil
}

func sqlitePlaceholder(int) string { return "?" }

func sqliteAttribute(key string) string {
	return "json_extract(attributes, '$.' || json_quote(" + key + "))"
}
