// Package memory stores conversation turns and flattened tabular records in
// the vector store and searches them. Search checks field=value clauses
// against stored record fields and identifier-shaped query tokens against
// stored content first, and only falls back to embedding similarity when
// neither finds a record.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/54b3r/docsearch-go/internal/rag"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// Defaults for Search and the memory table.
const (
	DefaultTable     = "chat_memory"
	DefaultTopK      = 10
	DefaultThreshold = 0.3

	// ExactMatchScore is the similarity reported for pre-filter hits.
	ExactMatchScore = 0.99

	// countLimit replaces TopK for "how many" style questions.
	countLimit = 1000
)

// Kinds assigned by the service when the caller leaves Turn.Kind empty.
const (
	KindMessage = "message"
	KindRecord  = "record"
)

// Store is the subset of *vectorstore.Store the service uses.
type Store interface {
	Insert(ctx context.Context, table string, row vectorstore.Row) (string, error)
	Search(ctx context.Context, table string, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error)
	FindContaining(ctx context.Context, table, token string, f vectorstore.Filter, limit int) ([]vectorstore.Row, error)
	Recent(ctx context.Context, table string, f vectorstore.Filter, n int) ([]vectorstore.Row, error)
}

// Turn is one conversational message.
type Turn struct {
	Owner    string            `json:"owner"`
	Session  string            `json:"session,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Record is one row of a table, stored as "key: value" lines.
type Record struct {
	Owner  string            `json:"owner"`
	Source string            `json:"source,omitempty"`
	Row    int               `json:"row"`
	Fields map[string]string `json:"fields"`
}

// Options scopes Search and Recent.
type Options struct {
	Owner   string `json:"owner,omitempty"`
	Session string `json:"session,omitempty"`
	Kind    string `json:"kind,omitempty"`
	// Fields restricts results to records whose fields equal every given
	// value. Field names match case-insensitively.
	Fields map[string]string `json:"fields,omitempty"`
	TopK   int               `json:"topK,omitempty"`
	// Threshold is the minimum similarity for vector matches. Nil means
	// DefaultThreshold; an explicit 0 is honoured.
	Threshold *float64 `json:"threshold,omitempty"`
}

func (o Options) filter() vectorstore.Filter {
	f := vectorstore.Filter{Owner: o.Owner, Session: o.Session, Kind: o.Kind}
	if len(o.Fields) > 0 {
		f.Attributes = make(map[string]string, len(o.Fields))
		for k, v := range o.Fields {
			f.Attributes[FieldKey(k)] = strings.TrimSpace(v)
		}
	}
	return f
}

// fieldPrefix namespaces record fields inside Row.Attributes so they cannot
// collide with the "row" and "source" bookkeeping keys.
const fieldPrefix = "field:"

// FieldKey returns the attribute key a record field is stored under. Case
// and runs of whitespace in name are normalised.
func FieldKey(name string) string {
	return fieldPrefix + strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Saved describes a stored turn or record.
type Saved struct {
	ID string `json:"id"`
	// Searchable is false when embedding failed and only the content was kept.
	Searchable bool `json:"searchable"`
}

// Service saves and searches memory entries in a single table.
type Service struct {
	store    Store
	embedder rag.Embedder
	table    string
	log      *slog.Logger
}

// NewService returns a Service writing to table, or DefaultTable when empty.
func NewService(store Store, emb rag.Embedder, table string, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("memory: embedder must not be nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if err := vectorstore.ValidateTable(table); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, embedder: emb, table: table, log: log.With(slog.String("table", table))}, nil
}

// Table returns the table the service writes to.
func (s *Service) Table() string { return s.table }

// SaveTurn embeds and stores t. When embedding fails the content is stored
// without a vector: it stays visible to Recent and the identifier pre-filter
// but can never be returned by similarity search.
func (s *Service) SaveTurn(ctx context.Context, t Turn) (Saved, error) {
	content := strings.TrimSpace(t.Content)
	if content == "" {
		return Saved{}, fmt.Errorf("memory: content must not be empty")
	}
	if t.Owner == "" {
		return Saved{}, fmt.Errorf("memory: owner must not be empty")
	}
	kind := t.Kind
	if kind == "" {
		kind = KindMessage
	}

	row := vectorstore.Row{
		Content:    content,
		Owner:      t.Owner,
		Session:    t.Session,
		Kind:       kind,
		Attributes: t.Metadata,
	}
	vec, err := s.embedder.Embed(ctx, content)
	switch {
	case err != nil:
		s.log.Warn("embedding failed, storing content only",
			slog.String("owner", t.Owner),
			slog.String("error", err.Error()),
		)
	case len(vec) == 0:
		s.log.Warn("empty embedding, storing content only", slog.String("owner", t.Owner))
	default:
		row.Vector = vec
	}

	id, err := s.store.Insert(ctx, s.table, row)
	if err != nil {
		return Saved{}, fmt.Errorf("memory: save: %w", err)
	}
	return Saved{ID: id, Searchable: row.Vector != nil}, nil
}

// SaveRecord flattens r into "key: value" lines in key order and stores it
// like a turn of kind "record". Each non-empty field is also kept as an
// attribute under FieldKey so Options.Fields and field=value queries can
// match it exactly.
func (s *Service) SaveRecord(ctx context.Context, r Record) (Saved, error) {
	content := FlattenFields(r.Fields)
	if content == "" {
		return Saved{}, fmt.Errorf("memory: record has no non-empty fields")
	}
	meta := map[string]string{"row": strconv.Itoa(r.Row)}
	if r.Source != "" {
		meta["source"] = r.Source
	}
	for k, v := range r.Fields {
		if v = strings.TrimSpace(v); v != "" && strings.TrimSpace(k) != "" {
			meta[FieldKey(k)] = v
		}
	}
	return s.SaveTurn(ctx, Turn{
		Owner:    r.Owner,
		Session:  r.Source,
		Kind:     KindRecord,
		Content:  content,
		Metadata: meta,
	})
}

// FlattenFields renders fields as "key: value" lines sorted by key. Blank
// values are omitted.
func FlattenFields(fields map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		v := strings.TrimSpace(fields[k])
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.TrimSpace(k))
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

// Search answers query. A "<field> là|=|: <value>" clause is looked up as an
// exact record field match first, then identifier-shaped tokens as
// substrings; any hit is returned with ExactMatchScore and embedding is
// skipped. Otherwise the query is embedded and ranked by similarity. It
// returns vectorstore.ErrNoData when the table is empty and an empty slice
// when nothing clears the threshold.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]vectorstore.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("memory: query must not be empty")
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = DefaultTopK
	}
	if IsCountQuery(query) {
		limit = countLimit
	}
	threshold := opts.Threshold
	if threshold == nil {
		threshold = vectorstore.MinSimilarity(DefaultThreshold)
	}

	hits, err := s.fieldMatches(ctx, query, opts.filter(), limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		s.log.Debug("field pre-filter matched", slog.Int("hits", len(hits)))
		return hits, nil
	}
	hits, err = s.exactMatches(ctx, query, opts.filter(), limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		s.log.Debug("identifier pre-filter matched", slog.Int("hits", len(hits)))
		return hits, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embedding query failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("memory: embedding query failed: empty vector")
	}
	results, err := s.store.Search(ctx, s.table, vec, vectorstore.SearchOptions{
		TopK:      limit,
		Threshold: threshold,
		Filter:    opts.filter(),
	})
	if err != nil {
		if errors.Is(err, vectorstore.ErrNoData) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return results, nil
}

// fieldMatches answers the field=value clauses of query with records whose
// field equals the value. For each clause the longest candidate field name
// that matches any record wins. Hits are merged in clause order without
// duplicates and capped at limit.
func (s *Service) fieldMatches(ctx context.Context, query string, f vectorstore.Filter, limit int) ([]vectorstore.Result, error) {
	var (
		out  []vectorstore.Result
		seen = map[string]bool{}
	)
	for _, fv := range FieldValues(query) {
		for _, field := range fv.Fields {
			scoped := f
			scoped.Attributes = maps.Clone(f.Attributes)
			if scoped.Attributes == nil {
				scoped.Attributes = map[string]string{}
			}
			scoped.Attributes[FieldKey(field)] = fv.Value

			rows, err := s.store.Recent(ctx, s.table, scoped, limit)
			if err != nil {
				return nil, fmt.Errorf("memory: field match %s=%q: %w", field, fv.Value, err)
			}
			if len(rows) == 0 {
				continue
			}
			for _, r := range rows {
				if seen[r.ID] {
					continue
				}
				seen[r.ID] = true
				out = append(out, vectorstore.Result{Row: r, Similarity: ExactMatchScore})
				if len(out) == limit {
					return out, nil
				}
			}
			break
		}
	}
	return out, nil
}

// exactMatches returns rows containing any identifier token of query, in
// token order, without duplicates, capped at limit.
func (s *Service) exactMatches(ctx context.Context, query string, f vectorstore.Filter, limit int) ([]vectorstore.Result, error) {
	tokens := IdentifierTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	var (
		out  []vectorstore.Result
		seen = map[string]bool{}
	)
	for _, tok := range tokens {
		rows, err := s.store.FindContaining(ctx, s.table, tok, f, limit)
		if err != nil {
			return nil, fmt.Errorf("memory: exact match %q: %w", tok, err)
		}
		for _, r := range rows {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, vectorstore.Result{Row: r, Similarity: ExactMatchScore})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Recent returns up to n entries matching opts, newest first.
func (s *Service) Recent(ctx context.Context, opts Options, n int) ([]vectorstore.Row, error) {
	if n <= 0 {
		n = DefaultTopK
	}
	rows, err := s.store.Recent(ctx, s.table, opts.filter(), n)
	if err != nil {
		return nil, fmt.Errorf("memory: recent: %w", err)
	}
	return rows, nil
}
