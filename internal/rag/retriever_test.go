package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// fakeEmbedder maps known texts to vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

// seededStore returns a memory-backed store holding three fragments.
func seededStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	s := vectorstore.New(vectorstore.NewMemoryBackend(false), vectorstore.Options{
		Dimension: 2,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	rows := []vectorstore.Row{
		{Content: "invoice terms", Vector: []float32{1, 0}, FileName: "terms.pdf", PageNumber: 2},
		{Content: "shipping policy", Vector: []float32{0.7, 0.7}, FileName: "policy.docx"},
		{Content: "unrelated", Vector: []float32{-1, 0}, FileName: "misc.txt"},
	}
	for _, r := range rows {
		if _, err := s.Insert(context.Background(), "docs", r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return s
}

func TestNewEngine_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(nil, seededStore(t), 0); err == nil {
		t.Error("nil embedder must be rejected")
	}
	if _, err := NewEngine(&fakeEmbedder{}, nil, 0); err == nil {
		t.Error("nil store must be rejected")
	}
}

func TestEngine_Retrieve(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{vectors: map[string][]float32{"payment terms": {1, 0.1}}}
	e, err := NewEngine(emb, seededStore(t), 2)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	got, err := e.Retrieve(context.Background(), "payment terms", "docs", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want default topK 2, got %d", len(got))
	}
	if got[0].Content != "invoice terms" || got[0].PageNumber != 2 || got[0].FileName != "terms.pdf" {
		t.Errorf("unexpected top result %+v", got[0])
	}
}

func TestEngine_QueryEmbeddingFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	e, _ := NewEngine(&fakeEmbedder{err: boom}, seededStore(t), 4)
	if _, err := e.Retrieve(context.Background(), "x", "docs", 1); !errors.Is(err, boom) {
		t.Errorf("want wrapped embedding error, got %v", err)
	}
}

func TestEngine_NoDataPropagates(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	e, _ := NewEngine(emb, seededStore(t), 4)
	if _, err := e.Retrieve(context.Background(), "q", "missing", 1); !errors.Is(err, vectorstore.ErrNoData) {
		t.Errorf("want ErrNoData, got %v", err)
	}
}

func TestEinoRetriever(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	e, _ := NewEngine(emb, seededStore(t), 4)
	r := NewEinoRetriever(e, "docs", vectorstore.SearchOptions{TopK: 3})

	docs, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("want 3 docs, got %d", len(docs))
	}
	if docs[0].Content != "invoice terms" || docs[0].Score() < 0.99 {
		t.Errorf("unexpected first doc %+v score=%v", docs[0], docs[0].Score())
	}
	if docs[0].MetaData["file_name"] != "terms.pdf" {
		t.Errorf("metadata missing: %v", docs[0].MetaData)
	}

	filtered, err := r.Retrieve(context.Background(), "q", retriever.WithTopK(5), retriever.WithScoreThreshold(0.5))
	if err != nil {
		t.Fatalf("Retrieve with options: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("threshold 0.5 should keep 2 docs, got %d", len(filtered))
	}

	if _, err := r.Retrieve(context.Background(), "q", retriever.WithIndex("missing")); !errors.Is(err, vectorstore.ErrNoData) {
		t.Errorf("WithIndex should select the table, got %v", err)
	}
}
