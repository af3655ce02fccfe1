package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"github.com/54b3r/docsearch-go/internal/rag"
)

var bucketEmbeddings = []byte("embeddings")

var _ rag.Embedder = (*CachedEmbedder)(nil)

// CachedEmbedder memoises another Embedder in a local bbolt file keyed by
// model and text, so re-ingesting unchanged documents costs no API calls.
type CachedEmbedder struct {
	next  rag.Embedder
	model string
	db    *bbolt.DB
	log   *slog.Logger
}

// NewCachedEmbedder opens (or creates) the cache file at path and wraps next.
// model namespaces the keys so switching models never returns stale vectors.
func NewCachedEmbedder(path, model string, next rag.Embedder, log *slog.Logger) (*CachedEmbedder, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("embedder: open cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEmbeddings); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketEmbeddings, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("embedder: init cache: %w", err)
	}

	return &CachedEmbedder{next: next, model: model, db: db, log: log}, nil
}

// Embed returns the cached vector for text or delegates to the wrapped
// embedder and stores the result. Cache write failures are logged, not
// returned.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	var cached []float32
	_ = c.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketEmbeddings).Get(key); raw != nil {
			cached = decodeVector(raw)
		}
		return nil
	})
	if len(cached) > 0 {
		return cached, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put(key, encodeVector(vec))
	})
	if err != nil && c.log != nil {
		c.log.Warn("embedding cache write failed", slog.String("error", err.Error()))
	}
	return vec, nil
}

// Close releases the cache file lock.
func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedder) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum(nil)
}

// encodeVector packs v as little-endian IEEE-754 float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector copies raw out of the bbolt page; the slice returned by Get is
// only valid inside the transaction.
func decodeVector(raw []byte) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v
}
