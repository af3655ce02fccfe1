//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration performs a real HTTP call to a locally running
// Ollama instance to validate the embedder end-to-end.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewOllamaEmbedder(&OllamaConfig{
		Host:  host,
		Model: model,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	texts := []string{
		"Invoice 24142TJ was issued on 12/03/2024 for three pallets.",
		"The quarterly report summarises warehouse throughput.",
	}

	results := EmbedBatch(ctx, emb, texts, BatchOptions{Size: 2})
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("Embed(%d) failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", r.Index, r.Err, model, model)
		}
		t.Logf("embedding[%d]: dim=%d, first_3=%v", r.Index, len(r.Vector), r.Vector[:3])
	}

	a, b := results[0].Vector, results[1].Vector
	if len(a) != len(b) {
		t.Fatalf("dimension differs between texts: %d vs %d", len(a), len(b))
	}
	identical := true
	for j := range a {
		if a[j] != b[j] {
			identical = false
			break
		}
	}
	if identical {
		t.Error("embeddings of distinct texts are identical; model may not be working correctly")
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d to match)", model, len(a), len(a))
}
