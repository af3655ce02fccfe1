package vectorstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

var _ Backend = (*QdrantBackend)(nil)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantBackend maps each table to a Qdrant collection with cosine distance.
// The collection's vector size is the table dimension, and the JSON-encoded
// vector travels in the payload like every other backend.
type QdrantBackend struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
}

// scrollPage is the page size for payload scans.
const scrollPage = 256

// OpenQdrant creates a client for cfg.
func OpenQdrant(cfg *QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &QdrantBackend{client: client}, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

// EnsureTable creates the collection if it does not already exist.
func (b *QdrantBackend) EnsureTable(ctx context.Context, table string, dim int) (TableInfo, error) {
	if info, ok, err := b.Info(ctx, table); err != nil || ok {
		return info, err
	}

	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: table,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return TableInfo{}, fmt.Errorf("create collection %q: %w", table, err)
	}
	return TableInfo{Dimension: dim, Native: true}, nil
}

func (b *QdrantBackend) Info(ctx context.Context, table string) (TableInfo, bool, error) {
	exists, err := b.client.CollectionExists(ctx, table)
	if err != nil {
		return TableInfo{}, false, fmt.Errorf("check collection existence: %w", err)
	}
	if !exists {
		return TableInfo{}, false, nil
	}
	ci, err := b.client.GetCollectionInfo(ctx, table)
	if err != nil {
		return TableInfo{}, false, fmt.Errorf("collection info: %w", err)
	}
	size := ci.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return TableInfo{Dimension: int(size), Native: true}, true, nil
}

// Insert upserts row as a point. Content-only rows get a placeholder unit
// vector and no vector_json; every ranked query filters them out.
func (b *QdrantBackend) Insert(ctx context.Context, table string, row Row) error {
	payload := map[string]any{
		"content":     row.Content,
		"file_name":   row.FileName,
		"page_number": int64(row.PageNumber),
		"chunk_index": int64(row.ChunkIndex),
		"owner":       row.Owner,
		"session":     row.Session,
		"kind":        row.Kind,
		"attributes":  encodeAttributes(row.Attributes),
		"created_at":  row.CreatedAt.UnixNano(),
	}
	if len(row.Attributes) > 0 {
		pairs := make([]any, 0, len(row.Attributes))
		for k, v := range row.Attributes {
			pairs = append(pairs, attributePair(k, v))
		}
		payload["attribute_pairs"] = pairs
	}

	vec := row.Vector
	if len(vec) > 0 {
		s, err := EncodeVector(vec)
		if err != nil {
			return err
		}
		payload["vector_json"] = s
	} else {
		info, _, err := b.Info(ctx, table)
		if err != nil {
			return err
		}
		vec = make([]float32, max(info.Dimension, 1))
		vec[0] = 1
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: table,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(row.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "dimension") {
			info, _, _ := b.Info(ctx, table)
			return fmt.Errorf("%w: %w", &DimensionError{Table: table, Want: info.Dimension, Got: len(vec)}, err)
		}
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Recreate(ctx context.Context, table string, dim int) (TableInfo, error) {
	if err := b.Drop(ctx, table); err != nil {
		return TableInfo{}, err
	}
	return b.EnsureTable(ctx, table, dim)
}

// NativeSearch performs a cosine similarity query; Qdrant reports cosine
// similarity directly as the score.
func (b *QdrantBackend) NativeSearch(ctx context.Context, table string, query []float32, limit int, f Filter) ([]Result, error) {
	lim := uint64(limit)
	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: table,
		Query:          qdrant.NewQuery(query...),
		Filter:         qdrantFilter(f, true),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		out = append(out, Result{Row: rowFromPayload(p.GetId(), p.GetPayload()), Similarity: float64(p.GetScore())})
	}
	return out, nil
}

func (b *QdrantBackend) Scan(ctx context.Context, table string, f Filter, fn func(Row) error) error {
	return b.scroll(ctx, table, qdrantFilter(f, true), func(r Row, payload map[string]*qdrant.Value) error {
		if v, err := DecodeVector(payload["vector_json"].GetStringValue()); err == nil {
			r.Vector = v
		}
		return fn(r)
	})
}

// FindContaining uses a text match on content. Without a full-text index
// Qdrant evaluates it as a case-sensitive substring match.
func (b *QdrantBackend) FindContaining(ctx context.Context, table, token string, f Filter, limit int) ([]Row, error) {
	filter := qdrantFilter(f, false)
	filter.Must = append(filter.Must, qdrant.NewMatchText("content", token))

	var out []Row
	err := b.scroll(ctx, table, filter, func(r Row, _ map[string]*qdrant.Value) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, limit), nil
}

func (b *QdrantBackend) Recent(ctx context.Context, table string, f Filter, n int) ([]Row, error) {
	var out []Row
	err := b.scroll(ctx, table, qdrantFilter(f, false), func(r Row, _ map[string]*qdrant.Value) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, n), nil
}

// scroll pages through every point matching filter. The offset point is
// inclusive, so each page after the first drops its leading point.
func (b *QdrantBackend) scroll(ctx context.Context, table string, filter *qdrant.Filter, fn func(Row, map[string]*qdrant.Value) error) error {
	var offset *qdrant.PointId
	for {
		lim := uint32(scrollPage)
		points, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: table,
			Filter:         filter,
			Limit:          &lim,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if offset != nil && len(points) > 0 {
			points = points[1:]
		}
		for _, p := range points {
			if err := fn(rowFromPayload(p.GetId(), p.GetPayload()), p.GetPayload()); err != nil {
				return err
			}
		}
		if len(points) < scrollPage-1 || len(points) == 0 {
			return nil
		}
		offset = points[len(points)-1].GetId()
	}
}

func (b *QdrantBackend) Count(ctx context.Context, table string) (int, error) {
	n, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: table,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int(n), nil
}

func (b *QdrantBackend) Drop(ctx context.Context, table string) error {
	exists, err := b.client.CollectionExists(ctx, table)
	if err != nil || !exists {
		return err
	}
	if err := b.client.DeleteCollection(ctx, table); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Ping calls the gRPC health check.
func (b *QdrantBackend) Ping(ctx context.Context) error {
	_, err := b.client.HealthCheck(ctx)
	return err
}

// Close closes the underlying Qdrant gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// qdrantFilter translates f. withVector restricts to points that carry a
// stored vector.
func qdrantFilter(f Filter, withVector bool) *qdrant.Filter {
	filter := &qdrant.Filter{}
	for key, val := range map[string]string{"owner": f.Owner, "session": f.Session, "kind": f.Kind} {
		if val != "" {
			filter.Must = append(filter.Must, qdrant.NewMatch(key, val))
		}
	}
	for k, v := range f.Attributes {
		filter.Must = append(filter.Must, qdrant.NewMatch("attribute_pairs", attributePair(k, v)))
	}
	if withVector {
		filter.MustNot = append(filter.MustNot, qdrant.NewIsEmpty("vector_json"))
	}
	return filter
}

// attributePair is the keyword indexed in the attribute_pairs payload list.
// A keyword match against a list field succeeds when any element equals it.
func attributePair(k, v string) string { return k + "\x1f" + v }

func rowFromPayload(id *qdrant.PointId, p map[string]*qdrant.Value) Row {
	return Row{
		ID:         id.GetUuid(),
		Content:    p["content"].GetStringValue(),
		FileName:   p["file_name"].GetStringValue(),
		PageNumber: int(p["page_number"].GetIntegerValue()),
		ChunkIndex: int(p["chunk_index"].GetIntegerValue()),
		Owner:      p["owner"].GetStringValue(),
		Session:    p["session"].GetStringValue(),
		Kind:       p["kind"].GetStringValue(),
		Attributes: decodeAttributes(p["attributes"].GetStringValue()),
		CreatedAt:  time.Unix(0, p["created_at"].GetIntegerValue()).UTC(),
	}
}

// newestFirst sorts rows by creation time descending and keeps n.
func newestFirst(rows []Row, n int) []Row {
	slices.SortStableFunc(rows, func(a, b Row) int { return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano()) })
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
