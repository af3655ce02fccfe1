package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// quietLogger returns a logger that drops everything.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newGeminiServer starts an httptest server answering embedContent with the
// given status and body, recording the last decoded request.
func newGeminiServer(t *testing.T, status int, body string, got *geminiEmbedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/text-embedding-004:embedContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var req geminiEmbedRequest
	srv := newGeminiServer(t, http.StatusOK, `{"embedding":{"values":[0.1,0.2,0.3]}}`, &req)
	emb := NewGeminiEmbedder(&GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "text-embedding-004", Dimensions: 3})

	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("unexpected vector %v", vec)
	}
	if req.Model != "models/text-embedding-004" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.Content.Parts) != 1 || req.Content.Parts[0].Text != "hello" {
		t.Errorf("content = %+v", req.Content)
	}
	if req.OutputDimensionality != 3 {
		t.Errorf("outputDimensionality = %d", req.OutputDimensionality)
	}
}

func TestGeminiEmbedder_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		dims   int
		want   string
	}{
		{name: "http error", status: http.StatusTooManyRequests, body: `{"error":{"code":429,"message":"quota"}}`, want: "quota"},
		{name: "missing embedding", status: http.StatusOK, body: `{}`, want: "no embedding"},
		{name: "empty values", status: http.StatusOK, body: `{"embedding":{"values":[]}}`, want: "no embedding"},
		{name: "wrong dimension", status: http.StatusOK, body: `{"embedding":{"values":[1,2]}}`, dims: 3, want: "expected 3 dimensions"},
		{name: "not json", status: http.StatusBadGateway, body: `<html>`, want: "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newGeminiServer(t, tt.status, tt.body, nil)
			emb := NewGeminiEmbedder(&GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "models/text-embedding-004", Dimensions: tt.dims})

			_, err := emb.Embed(context.Background(), "x")
			if !errors.Is(err, ErrEmbedding) {
				t.Fatalf("want ErrEmbedding, got %v", err)
			}
			var ee *EmbeddingError
			if !errors.As(err, &ee) || ee.Provider != "gemini" {
				t.Errorf("want *EmbeddingError from gemini, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("missing bearer token")
		}
		var body openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Input != "hello" {
			t.Errorf("input = %q", body.Input)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1,0],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk", Model: "text-embedding-3-small"})
	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestOllamaEmbedder_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope"}).Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmbedding) || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("unexpected error %v", err)
	}
}

// fakeEmbedder returns a vector derived from the text length, failing for
// texts listed in fail.
type fakeEmbedder struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail[text] {
		return nil, &EmbeddingError{Provider: "fake", Err: errors.New("boom")}
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "bb", "bad", "dddd", "eeeee"}
	fake := &fakeEmbedder{fail: map[string]bool{"bad": true}}

	results := EmbedBatch(context.Background(), fake, texts, BatchOptions{Size: 2, Pause: time.Millisecond, Logger: quietLogger()})
	if len(results) != len(texts) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if texts[i] == "bad" {
			if !errors.Is(r.Err, ErrEmbedding) || r.Vector != nil {
				t.Errorf("item %d: want embedding error, got %+v", i, r)
			}
			continue
		}
		if r.Err != nil || r.Vector[0] != float32(len(texts[i])) {
			t.Errorf("item %d: unexpected %+v", i, r)
		}
	}
	if n := fake.calls.Load(); n != 5 {
		t.Errorf("want 5 embed calls, got %d", n)
	}
}

func TestEmbedBatch_CancelledMarksRemaining(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := EmbedBatch(ctx, &fakeEmbedder{}, []string{"a", "b", "c"}, BatchOptions{Size: 1})
	for i, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("item %d: want context.Canceled, got %v", i, r.Err)
		}
	}
}

func TestEmbedBatches_CallbackPerBatch(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	fake := &fakeEmbedder{}
	var sizes, indexes []int
	err := EmbedBatches(context.Background(), fake, texts, BatchOptions{Size: 2, Pause: -1}, func(batch []Result) error {
		sizes = append(sizes, len(batch))
		for _, r := range batch {
			indexes = append(indexes, r.Index)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("EmbedBatches: %v", err)
	}
	if fmt.Sprint(sizes) != "[2 2 1]" || fmt.Sprint(indexes) != "[0 1 2 3 4]" {
		t.Errorf("batches %v, indexes %v", sizes, indexes)
	}
}

func TestEmbedBatches_CallbackErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("store unavailable")
	fake := &fakeEmbedder{}
	calls := 0
	err := EmbedBatches(context.Background(), fake, []string{"a", "b", "c", "d"}, BatchOptions{Size: 1, Pause: -1}, func([]Result) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("want callback error, got %v", err)
	}
	if calls != 2 || fake.calls.Load() != 2 {
		t.Errorf("batching continued after error: callbacks=%d embeds=%d", calls, fake.calls.Load())
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	if got := EmbedBatch(context.Background(), &fakeEmbedder{}, nil, BatchOptions{}); len(got) != 0 {
		t.Errorf("want no results, got %d", len(got))
	}
}

func TestCachedEmbedder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	fake := &fakeEmbedder{}
	c, err := NewCachedEmbedder(path, "m1", fake, quietLogger())
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}

	first, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, _ := c.Embed(context.Background(), "hello")
	if fake.calls.Load() != 1 {
		t.Errorf("want 1 upstream call, got %d", fake.calls.Load())
	}
	if len(second) != len(first) || second[0] != first[0] {
		t.Errorf("cached %v differs from %v", second, first)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A different model must not share entries.
	other, err := NewCachedEmbedder(path, "m2", fake, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	if _, err := other.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if fake.calls.Load() != 2 {
		t.Errorf("want a miss for another model, calls = %d", fake.calls.Load())
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{fail: map[string]bool{"x": true}}
	c, err := NewCachedEmbedder(filepath.Join(t.TempDir(), "c.db"), "m", fake, quietLogger())
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	for range 2 {
		if _, err := c.Embed(context.Background(), "x"); !errors.Is(err, ErrEmbedding) {
			t.Fatalf("want ErrEmbedding, got %v", err)
		}
	}
	if fake.calls.Load() != 2 {
		t.Errorf("failures must not be cached, calls = %d", fake.calls.Load())
	}
}

func TestVectorCodec(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25, 1e-7}
	out := decodeVector(encodeVector(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, v any)
	}{
		{
			name:    "gemini default needs key",
			env:     map[string]string{},
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name: "gemini with google key",
			env:  map[string]string{"GOOGLE_API_KEY": "g"},
			check: func(t *testing.T, v any) {
				e, ok := v.(*GeminiEmbedder)
				if !ok {
					t.Fatalf("got %T", v)
				}
				if e.dimensions != 768 || e.model != "text-embedding-004" {
					t.Errorf("unexpected %+v", e)
				}
			},
		},
		{
			name: "openai dimensions",
			env:  map[string]string{"EMBEDDING_PROVIDER": "openai", "EMBEDDING_API_KEY": "sk"},
			check: func(t *testing.T, v any) {
				if e := v.(*OpenAIEmbedder); e.dimensions != 1536 {
					t.Errorf("dims = %d", e.dimensions)
				}
			},
		},
		{
			name:    "azure needs endpoint",
			env:     map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k"},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "ollama no key",
			env:  map[string]string{"EMBEDDING_PROVIDER": "ollama"},
			check: func(t *testing.T, v any) {
				if e := v.(*OllamaEmbedder); e.host != "http://localhost:11434" {
					t.Errorf("host = %q", e.host)
				}
			},
		},
		{
			name:    "unknown",
			env:     map[string]string{"EMBEDDING_PROVIDER": "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"EMBEDDING_PROVIDER", "EMBEDDING_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY",
				"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "EMBEDDING_ENDPOINT",
				"EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "OLLAMA_HOST"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			emb, err := NewFromEnv()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
				}
				if verr := ValidateConfig(quietLogger()); verr == nil {
					t.Errorf("ValidateConfig should also fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			tt.check(t, emb)
		})
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"text-embedding-004":     false,
		"nomic-embed-text":       false,
		"gemini-embedding-001":   false,
		"gemini-2.0-flash":       true,
		"gpt-4o":                 true,
		"llama3.1:8b":            true,
		"text-embedding-3-small": false,
	}
	for model, want := range tests {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}
