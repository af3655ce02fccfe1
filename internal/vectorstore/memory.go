package vectorstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps tables in process memory. With Native set it also
// ranks server-side, which lets tests exercise both search paths.
type MemoryBackend struct {
	native bool

	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	info TableInfo
	rows []Row
}

// NewMemoryBackend returns an empty backend. native enables NativeSearch.
func NewMemoryBackend(native bool) *MemoryBackend {
	return &MemoryBackend{native: native, tables: make(map[string]*memTable)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) EnsureTable(_ context.Context, table string, dim int) (TableInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[table]; ok {
		return t.info, nil
	}
	t := &memTable{info: TableInfo{Dimension: dim, Native: m.native}}
	m.tables[table] = t
	return t.info, nil
}

func (m *MemoryBackend) Info(_ context.Context, table string) (TableInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return TableInfo{}, false, nil
	}
	return t.info, true, nil
}

func (m *MemoryBackend) Insert(_ context.Context, table string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{info: TableInfo{Dimension: len(row.Vector), Native: m.native}}
		m.tables[table] = t
	}
	if t.info.Native && len(row.Vector) > 0 && len(row.Vector) != t.info.Dimension {
		return &DimensionError{Table: table, Want: t.info.Dimension, Got: len(row.Vector)}
	}
	row.Vector = slices.Clone(row.Vector)
	t.rows = append(t.rows, row)
	return nil
}

func (m *MemoryBackend) Recreate(_ context.Context, table string, dim int) (TableInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{info: TableInfo{Dimension: dim, Native: m.native}}
	m.tables[table] = t
	return t.info, nil
}

// NativeSearch mirrors a server-side cosine distance ordering.
func (m *MemoryBackend) NativeSearch(_ context.Context, table string, query []float32, limit int, f Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok || !t.info.Native {
		return nil, ErrNativeUnsupported
	}
	if len(query) != t.info.Dimension {
		return nil, &DimensionError{Table: table, Want: t.info.Dimension, Got: len(query)}
	}

	var out []Result
	for _, r := range t.rows {
		if len(r.Vector) == 0 || !f.match(r) {
			continue
		}
		distance := 1 - Cosine(query, r.Vector)
		out = append(out, Result{Row: r, Similarity: 1 - distance})
	}
	slices.SortStableFunc(out, func(a, b Result) int { return cmp.Compare(b.Similarity, a.Similarity) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryBackend) Scan(_ context.Context, table string, f Filter, fn func(Row) error) error {
	m.mu.RLock()
	t, ok := m.tables[table]
	var rows []Row
	if ok {
		rows = slices.Clone(t.rows)
	}
	m.mu.RUnlock()

	for _, r := range rows {
		if len(r.Vector) == 0 || !f.match(r) {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) FindContaining(_ context.Context, table, token string, f Filter, limit int) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	needle := strings.ToLower(token)
	var out []Row
	for i := len(t.rows) - 1; i >= 0 && len(out) < limit; i-- {
		r := t.rows[i]
		if f.match(r) && strings.Contains(strings.ToLower(r.Content), needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryBackend) Recent(_ context.Context, table string, f Filter, n int) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	var out []Row
	for i := len(t.rows) - 1; i >= 0 && len(out) < n; i-- {
		if f.match(t.rows[i]) {
			out = append(out, t.rows[i])
		}
	}
	return out, nil
}

func (m *MemoryBackend) Count(_ context.Context, table string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[table]; ok {
		return len(t.rows), nil
	}
	return 0, nil
}

func (m *MemoryBackend) Drop(_ context.Context, table string) error {
	m.mu.Lock()
	delete(m.tables, table)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
