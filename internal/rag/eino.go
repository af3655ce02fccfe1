package rag

import (
	"context"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

var _ retriever.Retriever = (*EinoRetriever)(nil)

// EinoRetriever exposes an Engine as an eino retriever component so an eino
// chain or graph can consume search results directly. retriever.WithIndex
// selects the table; WithTopK and WithScoreThreshold map onto SearchOptions.
// Without WithScoreThreshold the base threshold applies, and a nil base
// keeps every candidate.
type EinoRetriever struct {
	engine *Engine
	table  string
	opts   vectorstore.SearchOptions
}

// NewEinoRetriever wraps engine with table and base options used when the
// caller passes none.
func NewEinoRetriever(engine *Engine, table string, base vectorstore.SearchOptions) *EinoRetriever {
	return &EinoRetriever{engine: engine, table: table, opts: base}
}

// Retrieve implements retriever.Retriever.
func (r *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK, table := r.opts.TopK, r.table
	o := retriever.GetCommonOptions(&retriever.Options{
		Index:          &table,
		TopK:           &topK,
		ScoreThreshold: r.opts.Threshold,
	}, opts...)

	search := r.opts
	if o.Index != nil && *o.Index != "" {
		table = *o.Index
	}
	if o.TopK != nil {
		search.TopK = *o.TopK
	}
	search.Threshold = o.ScoreThreshold

	results, err := r.engine.Search(ctx, query, table, search)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, len(results))
	for _, res := range results {
		doc := &schema.Document{
			ID:      res.ID,
			Content: res.Content,
			MetaData: map[string]any{
				"file_name":   res.FileName,
				"page_number": res.PageNumber,
				"chunk_index": res.ChunkIndex,
			},
		}
		docs = append(docs, doc.WithScore(res.Similarity))
	}
	return docs, nil
}
