package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/docsearch-go/internal/embedder"
	"github.com/54b3r/docsearch-go/internal/parser"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmbedder returns a 4-dimensional vector derived from the text and fails
// for any text containing "FAIL".
type fakeEmbedder struct {
	calls atomic.Int32
	dim   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if strings.Contains(text, "FAIL") {
		return nil, &embedder.EmbeddingError{Provider: "fake", Err: errors.New("rejected")}
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	v := make([]float32, dim)
	v[0] = float32(len(text))
	v[1] = float32(strings.Count(text, "e"))
	v[2] = 1
	return v, nil
}

// pagesParser returns fixed pages regardless of input.
type pagesParser struct {
	pages []parser.Page
}

func (p pagesParser) Parse(context.Context, []byte, parser.Format, string) ([]parser.Page, error) {
	return p.pages, nil
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "Line %04d of the page.", i)
	}
	return b.String()
}

func newStore(dim int, policy vectorstore.RecreatePolicy) *vectorstore.Store {
	return vectorstore.New(vectorstore.NewMemoryBackend(false), vectorstore.Options{
		Dimension: dim,
		Recreate:  policy,
		Logger:    quietLogger(),
	})
}

func newPipeline(t *testing.T, p DocumentParser, emb *fakeEmbedder, store Store, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := &Config{
		Table:        "docs",
		ChunkSize:    1000,
		ChunkOverlap: 100,
		Batch:        embedder.BatchOptions{Size: 3, Pause: time.Millisecond},
		Logger:       quietLogger(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	pl, err := NewPipeline(p, emb, store, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pl
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	store := newStore(4, vectorstore.RecreateOnce)
	if _, err := NewPipeline(nil, &fakeEmbedder{}, store, nil); err == nil {
		t.Error("nil parser must be rejected")
	}
	if _, err := NewPipeline(parser.New(nil), nil, store, nil); err == nil {
		t.Error("nil embedder must be rejected")
	}
	if _, err := NewPipeline(parser.New(nil), &fakeEmbedder{}, nil, nil); err == nil {
		t.Error("nil store must be rejected")
	}
	if _, err := NewPipeline(parser.New(nil), &fakeEmbedder{}, store, &Config{Table: "bad-name"}); !errors.Is(err, vectorstore.ErrInvalidTable) {
		t.Errorf("want ErrInvalidTable, got %v", err)
	}
	pl, err := NewPipeline(parser.New(nil), &fakeEmbedder{}, store, nil)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if pl.Table() != DefaultTable || pl.cfg.ChunkSize != 1000 || pl.cfg.ChunkOverlap != 100 {
		t.Errorf("unexpected defaults %+v", pl.cfg)
	}
}

func TestIngestBytes_ThreePages(t *testing.T) {
	t.Parallel()

	pages := pagesParser{pages: []parser.Page{
		{Text: sentences(1200), Number: 1},
		{Text: "A short second page with only a little text.", Number: 2},
		{Text: sentences(3000), Number: 3},
	}}
	store := newStore(4, vectorstore.RecreateOnce)
	pl := newPipeline(t, pages, &fakeEmbedder{}, store, nil)

	rep, err := pl.IngestBytes(context.Background(), "report.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if rep.TotalFiles != 1 || rep.TotalChunks <= 3 {
		t.Fatalf("unexpected report %+v", rep)
	}

	perPage := map[int]int{}
	rows, _ := store.Recent(context.Background(), "docs", vectorstore.Filter{}, 100)
	for _, r := range rows {
		perPage[r.PageNumber]++
		if r.FileName != "report.pdf" {
			t.Errorf("file name = %q", r.FileName)
		}
		if r.Attributes["format"] != "pdf" {
			t.Errorf("format attribute = %q", r.Attributes["format"])
		}
	}
	if perPage[2] != 1 {
		t.Errorf("page 2: want 1 fragment, got %d", perPage[2])
	}
	if perPage[1] < 2 || perPage[3] < 2 {
		t.Errorf("pages 1 and 3 should split: %v", perPage)
	}
	if len(rows) != rep.TotalChunks {
		t.Errorf("stored %d rows, report says %d", len(rows), rep.TotalChunks)
	}
}

func TestIngestFolder_IsolatesFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "Alpha document. It has two sentences.")
	writeFile(t, filepath.Join(root, "b.MD"), "# Beta\nMarkdown passes through.")
	writeFile(t, filepath.Join(root, "sub", "c.txt"), "Gamma lives in a subfolder.")
	writeFile(t, filepath.Join(root, ".hidden", "d.txt"), "Never read.")
	writeFile(t, filepath.Join(root, "e.bin"), "binary")
	writeFile(t, filepath.Join(root, "broken.docx"), "not a zip archive")
	writeFile(t, filepath.Join(root, "empty.txt"), "   \n ")

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newStore(4, vectorstore.RecreateOnce)
	pl := newPipeline(t, parser.New(&parser.Config{Logger: quietLogger()}), &fakeEmbedder{}, store, func(c *Config) {
		c.Metrics = metrics
	})

	var progressCalls []string
	rep, err := pl.IngestFolder(context.Background(), root, func(done, total int, file string) {
		progressCalls = append(progressCalls, fmt.Sprintf("%d/%d", done, total))
	})
	if err != nil {
		t.Fatalf("IngestFolder: %v", err)
	}

	if rep.TotalFiles != 5 {
		t.Fatalf("want 5 files, got %d: %+v", rep.TotalFiles, rep.Files)
	}
	byName := map[string]FileReport{}
	for _, f := range rep.Files {
		byName[filepath.Base(f.Name)] = f
	}
	if f := byName["broken.docx"]; f.Status != StatusError || f.Error == "" {
		t.Errorf("broken.docx should fail: %+v", f)
	}
	if f := byName["empty.txt"]; f.Status != StatusOK || f.Chunks != 0 {
		t.Errorf("empty.txt should be ok with 0 chunks: %+v", f)
	}
	if f := byName["c.txt"]; f.Status != StatusOK || f.Chunks != 1 {
		t.Errorf("c.txt: %+v", f)
	}
	if _, ok := byName["d.txt"]; ok {
		t.Error("hidden directory was scanned")
	}
	if rep.Failed() != 1 || rep.TotalChunks != 3 {
		t.Errorf("failed=%d chunks=%d", rep.Failed(), rep.TotalChunks)
	}
	if strings.Join(progressCalls, ",") != "1/5,2/5,3/5,4/5,5/5" {
		t.Errorf("progress calls %v", progressCalls)
	}

	if got := testutil.ToFloat64(metrics.filesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error files metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.filesTotal.WithLabelValues("ok")); got != 4 {
		t.Errorf("ok files metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.fragmentsStored); got != 3 {
		t.Errorf("fragments metric = %v", got)
	}
}

func TestIngest_EmbeddingFailuresAreSkipped(t *testing.T) {
	t.Parallel()

	pages := pagesParser{pages: []parser.Page{
		{Text: "Good sentence one.\nFAIL this one.\nGood sentence three.\nFAIL again.\nLast good one."},
	}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newStore(4, vectorstore.RecreateOnce)
	pl := newPipeline(t, pages, &fakeEmbedder{}, store, func(c *Config) {
		c.ChunkSize = 20
		c.ChunkOverlap = -1
		c.Batch.Size = 2
		c.Metrics = metrics
	})

	rep, err := pl.IngestBytes(context.Background(), "notes.txt", nil)
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	f := rep.Files[0]
	if f.Status != StatusOK || f.Chunks != 3 || f.Skipped != 2 {
		t.Errorf("unexpected file report %+v", f)
	}
	if got := testutil.ToFloat64(metrics.embeddingFailures); got != 2 {
		t.Errorf("embedding failures metric = %v", got)
	}
}

// brokenStore accepts okInserts rows and rejects every insert after that.
type brokenStore struct {
	okInserts int
	inserts   int
}

func (b *brokenStore) EnsureTable(context.Context, string) (vectorstore.TableInfo, error) {
	return vectorstore.TableInfo{Dimension: 4}, nil
}

func (b *brokenStore) Insert(context.Context, string, vectorstore.Row) (string, error) {
	b.inserts++
	if b.inserts > b.okInserts {
		return "", errors.New("disk full")
	}
	return fmt.Sprintf("id-%d", b.inserts), nil
}

func TestIngest_InsertFailureStopsEmbedding(t *testing.T) {
	t.Parallel()

	pages := pagesParser{pages: []parser.Page{
		{Text: "Sentence number one.\nSentence number two.\nSentence number three.\nSentence number four.\nSentence number five.\nSentence number six."},
	}}
	emb := &fakeEmbedder{}
	store := &brokenStore{okInserts: 3}
	pl := newPipeline(t, pages, emb, store, func(c *Config) {
		c.ChunkSize = 25
		c.ChunkOverlap = -1
		c.Batch.Size = 2
	})

	rep, err := pl.IngestBytes(context.Background(), "notes.txt", nil)
	if err != nil {
		t.Fatalf("insert failure must not be fatal for the run: %v", err)
	}
	f := rep.Files[0]
	if f.Status != StatusError || f.Chunks != 3 || !strings.Contains(f.Error, "disk full") {
		t.Errorf("unexpected file report %+v", f)
	}
	if n := emb.calls.Load(); n != 4 {
		t.Errorf("want 4 embed calls (two batches), got %d", n)
	}
}

func TestIngest_DimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "First file.")
	writeFile(t, filepath.Join(root, "b.txt"), "Second file.")

	store := newStore(3, vectorstore.RecreateNever)
	pl := newPipeline(t, parser.New(&parser.Config{Logger: quietLogger()}), &fakeEmbedder{}, store, nil)

	rep, err := pl.IngestFolder(context.Background(), root, nil)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if rep == nil || rep.TotalFiles != 1 || rep.Files[0].Status != StatusError {
		t.Errorf("run should stop after the first file: %+v", rep)
	}
}

func TestIngest_UnsupportedTypeIsRecorded(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{}
	pl := newPipeline(t, parser.New(nil), emb, newStore(4, vectorstore.RecreateOnce), nil)
	rep, err := pl.IngestBytes(context.Background(), "legacy.doc", []byte{0xD0, 0xCF})
	if err != nil {
		t.Fatalf("unsupported type must not be fatal: %v", err)
	}
	if f := rep.Files[0]; f.Status != StatusError || !strings.Contains(f.Error, "unsupported") {
		t.Errorf("unexpected report %+v", f)
	}
	if emb.calls.Load() != 0 {
		t.Error("embedder called for an unsupported file")
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "Some text.")

	pl := newPipeline(t, parser.New(nil), &fakeEmbedder{}, newStore(4, vectorstore.RecreateOnce), nil)
	if _, err := pl.IngestFolder(ctx, root, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestIngestPath_SingleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "one.txt")
	writeFile(t, path, "Just one sentence.")
	pl := newPipeline(t, parser.New(nil), &fakeEmbedder{}, newStore(4, vectorstore.RecreateOnce), nil)

	rep, err := pl.IngestPath(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("IngestPath: %v", err)
	}
	if rep.TotalFiles != 1 || rep.TotalChunks != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if _, err := pl.IngestPath(context.Background(), filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("missing path must error")
	}
}

func TestScanner(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"a.txt", "B.PDF", "c.xlsx", "d.go", "docs/e.docx", "node_modules/f.md", ".git/g.txt", "docs/.h.md"} {
		writeFile(t, filepath.Join(root, name), "x")
	}

	tests := []struct {
		name     string
		includes []string
		excludes []string
		want     []string
	}{
		{name: "defaults", want: []string{"B.PDF", "a.txt", "c.xlsx", "docs/e.docx"}},
		{name: "custom include", includes: []string{"docs/**"}, want: []string{"docs/e.docx"}},
		{name: "no excludes", includes: []string{"**/*.md"}, excludes: []string{}, want: []string{"docs/.h.md", "node_modules/f.md"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			files, err := NewScanner(tt.includes, tt.excludes).Scan(root)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			var rel []string
			for _, f := range files {
				r, _ := filepath.Rel(root, f)
				rel = append(rel, filepath.ToSlash(r))
			}
			if strings.Join(rel, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", rel, tt.want)
			}
		})
	}
}
