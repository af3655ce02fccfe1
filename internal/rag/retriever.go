package rag

import (
	"context"
	"fmt"

	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

var _ Retriever = (*Engine)(nil)

// Engine implements Retriever by embedding the query and delegating ranking
// to a Searcher. A query-embedding failure fails the call; there is no
// retrieval without a query vector.
type Engine struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewEngine constructs an Engine from the given Embedder and Searcher.
// defaultTopK sets the fallback result count when Retrieve is called with topK=0.
func NewEngine(embedder Embedder, store Searcher, defaultTopK int) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = vectorstore.DefaultTopK
	}
	return &Engine{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most relevant fragments of
// table. If topK is 0 the defaultTopK configured at construction time is used.
func (e *Engine) Retrieve(ctx context.Context, query string, table string, topK int) ([]vectorstore.Result, error) {
	return e.Search(ctx, query, table, vectorstore.SearchOptions{TopK: topK})
}

// Search is Retrieve with the full set of search options.
func (e *Engine) Search(ctx context.Context, query string, table string, opts vectorstore.SearchOptions) ([]vectorstore.Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = e.defaultTopK
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty vector for query")
	}

	results, err := e.store.Search(ctx, table, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return results, nil
}
