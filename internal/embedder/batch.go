package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/docsearch-go/internal/rag"
)

// Batch defaults used when BatchOptions leaves a field at zero.
const (
	DefaultBatchSize  = 10
	DefaultBatchPause = 200 * time.Millisecond
)

// BatchOptions controls EmbedBatch pacing.
type BatchOptions struct {
	// Size is the number of texts embedded concurrently per batch.
	Size int
	// Pause is the delay between consecutive batches. Negative disables it.
	Pause time.Duration
	// Logger receives per-item failures. Nil discards them.
	Logger *slog.Logger
}

// Result is the outcome for one input of EmbedBatch.
type Result struct {
	// Index is the position of the text in the input slice.
	Index int
	// Vector is the embedding; nil when Err is set.
	Vector []float32
	// Err reports why this item has no vector.
	Err error
}

// EmbedBatch embeds texts in consecutive batches of opts.Size, calling emb
// concurrently within a batch and pausing between batches to respect
// provider rate limits. The result slice is parallel to texts. A failure of
// one item never aborts the others; cancellation marks every item not yet
// embedded with the context error.
func EmbedBatch(ctx context.Context, emb rag.Embedder, texts []string, opts BatchOptions) []Result {
	results := make([]Result, 0, len(texts))
	err := EmbedBatches(ctx, emb, texts, opts, func(batch []Result) error {
		results = append(results, batch...)
		return nil
	})
	for i := len(results); i < len(texts); i++ {
		results = append(results, Result{Index: i, Err: err})
	}
	return results
}

// EmbedBatches paces texts like EmbedBatch but hands each completed batch to
// fn before the next one starts. Result.Index is the position in texts.
// Batching stops at the first error from fn, which is returned as is, or
// when ctx is done, in which case the context error is returned and fn is
// not called for the remaining texts.
func EmbedBatches(ctx context.Context, emb rag.Embedder, texts []string, opts BatchOptions, fn func(batch []Result) error) error {
	size := opts.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	pause := opts.Pause
	if pause == 0 {
		pause = DefaultBatchPause
	}

	for start := 0; start < len(texts); start += size {
		if start > 0 && pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]Result, min(start+size, len(texts))-start)
		var wg sync.WaitGroup
		for j := range batch {
			i := start + j
			batch[j].Index = i
			wg.Go(func() {
				vec, err := emb.Embed(ctx, texts[i])
				if err == nil && len(vec) == 0 {
					err = fail("batch", "empty vector for item %d", i)
				}
				if err != nil {
					batch[j].Err = fmt.Errorf("embedder: item %d: %w", i, err)
					if opts.Logger != nil {
						opts.Logger.Warn("embedding failed", slog.Int("index", i), slog.String("error", err.Error()))
					}
					return
				}
				batch[j].Vector = vec
			})
		}
		wg.Wait()

		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}
