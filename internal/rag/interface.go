// Package rag ties embedding and vector search together into query-text
// retrieval. It defines the Embedder contract implemented by the embedder
// package and the Searcher contract implemented by vectorstore.Store, so the
// retrieval layer never depends on a specific provider or backend.
package rag

import (
	"context"

	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// Embedder converts a single text into a dense vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns the embedding of text. Transport errors and malformed
	// provider responses are reported as embedder.ErrEmbedding.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher ranks stored rows against a query vector.
// *vectorstore.Store satisfies it; tests inject fakes.
type Searcher interface {
	// Search returns rows ordered by descending similarity.
	Search(ctx context.Context, table string, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error)
}

// Retriever is the high-level interface consumed by the prompt-construction
// layer: free text in, ranked fragments out.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the topK fragments of table most similar to query.
	Retrieve(ctx context.Context, query string, table string, topK int) ([]vectorstore.Result, error)
}
