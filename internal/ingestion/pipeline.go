// Package ingestion implements the document ingestion pipeline.
// It parses files into pages, chunks each page, embeds the fragments in
// paced batches, and inserts every successfully embedded fragment into the
// vector store. Per-file and per-fragment failures are recorded in the
// returned Report; only schema-level failures abort a run.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/docsearch-go/internal/chunker"
	"github.com/54b3r/docsearch-go/internal/embedder"
	"github.com/54b3r/docsearch-go/internal/parser"
	"github.com/54b3r/docsearch-go/internal/rag"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// DocumentParser turns file bytes into pages. *parser.Parser satisfies it.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte, format parser.Format, name string) ([]parser.Page, error)
}

// Store persists fragments. *vectorstore.Store satisfies it.
type Store interface {
	EnsureTable(ctx context.Context, table string) (vectorstore.TableInfo, error)
	Insert(ctx context.Context, table string, row vectorstore.Row) (string, error)
}

// ProgressFunc is called after each file with the number of files done, the
// total, and the file just processed.
type ProgressFunc func(done, total int, file string)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Table is the destination table. Defaults to "rag_documents".
	Table string

	// ChunkSize is the maximum number of characters per fragment.
	// Defaults to chunker.DefaultMaxSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters carried between consecutive fragments.
	// Negative values disable overlap; zero selects chunker.DefaultOverlap.
	ChunkOverlap int

	// Batch paces embedding calls.
	Batch embedder.BatchOptions

	// Includes and Excludes are doublestar globs for folder scans.
	Includes []string
	Excludes []string

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// DefaultTable is the document table used when Config.Table is empty.
const DefaultTable = "rag_documents"

// Pipeline orchestrates the parse → chunk → embed → insert flow.
// Files are processed one at a time and batches strictly in sequence.
type Pipeline struct {
	// parser converts file bytes into pages.
	parser DocumentParser

	// embedder converts fragments into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded fragments.
	store Store

	// cfg holds the resolved pipeline configuration.
	cfg Config

	// scanner selects files during folder ingestion.
	scanner *Scanner

	// log is the structured logger for this pipeline.
	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(p DocumentParser, emb rag.Embedder, store Store, cfg *Config) (*Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("ingestion: parser must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if err := vectorstore.ValidateTable(c.Table); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunker.DefaultMaxSize
	}
	switch {
	case c.ChunkOverlap == 0:
		c.ChunkOverlap = chunker.DefaultOverlap
	case c.ChunkOverlap < 0:
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 10
	}
	if c.Batch.Size <= 0 {
		c.Batch.Size = embedder.DefaultBatchSize
	}
	if c.Batch.Pause == 0 {
		c.Batch.Pause = embedder.DefaultBatchPause
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	c.Batch.Logger = log

	return &Pipeline{
		parser:   p,
		embedder: emb,
		store:    store,
		cfg:      c,
		scanner:  NewScanner(c.Includes, c.Excludes),
		log:      log,
	}, nil
}

// Table returns the destination table.
func (p *Pipeline) Table() string { return p.cfg.Table }

// IngestPath ingests a folder recursively or a single file.
func (p *Pipeline) IngestPath(ctx context.Context, path string, progress ProgressFunc) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if info.IsDir() {
		return p.IngestFolder(ctx, path, progress)
	}
	rep, err := p.IngestFile(ctx, path)
	if progress != nil {
		progress(1, 1, path)
	}
	return rep, err
}

// IngestFolder ingests every supported file under root. The returned error
// is non-nil only for failures that invalidate the whole run (missing root,
// table creation, a fatal dimension mismatch, cancellation); the Report is
// returned alongside it with whatever was processed.
func (p *Pipeline) IngestFolder(ctx context.Context, root string, progress ProgressFunc) (*Report, error) {
	files, err := p.scanner.Scan(root)
	if err != nil {
		return nil, fmt.Errorf("ingestion: scan %s: %w", root, err)
	}
	rep := &Report{Files: []FileReport{}}
	if _, err := p.store.EnsureTable(ctx, p.cfg.Table); err != nil {
		return rep, fmt.Errorf("ingestion: %w", err)
	}

	p.log.Info("ingesting folder", slog.String("root", root), slog.Int("files", len(files)), slog.String("table", p.cfg.Table))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("ingestion: %w", err)
		}
		var (
			fr    FileReport
			fatal error
		)
		if data, err := os.ReadFile(path); err != nil {
			fr = FileReport{Name: path, Status: StatusError, Error: err.Error()}
			p.cfg.Metrics.file(StatusError)
		} else {
			fr, fatal = p.ingest(ctx, path, data)
		}
		rep.add(fr)
		if progress != nil {
			progress(i+1, len(files), path)
		}
		if fatal != nil {
			return rep, fatal
		}
	}

	p.log.Info("folder ingested",
		slog.String("root", root),
		slog.Int("total_files", rep.TotalFiles),
		slog.Int("total_chunks", rep.TotalChunks),
		slog.Int("failed_files", rep.Failed()),
	)
	return rep, nil
}

// IngestFile ingests a single file from disk.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return p.IngestBytes(ctx, path, data)
}

// IngestBytes ingests uploaded content; name supplies the extension and the
// file name recorded on every fragment.
func (p *Pipeline) IngestBytes(ctx context.Context, name string, data []byte) (*Report, error) {
	rep := &Report{Files: []FileReport{}}
	if _, err := p.store.EnsureTable(ctx, p.cfg.Table); err != nil {
		return rep, fmt.Errorf("ingestion: %w", err)
	}
	fr, err := p.ingest(ctx, name, data)
	rep.add(fr)
	return rep, err
}

// ingest runs one file through the pipeline. The error return is reserved
// for run-fatal conditions; everything else lands in the FileReport.
func (p *Pipeline) ingest(ctx context.Context, name string, data []byte) (FileReport, error) {
	fr := FileReport{Name: name, Status: StatusOK}
	log := p.log.With(slog.String("file", name))
	start := time.Now()

	fileErr := func(err error) (FileReport, error) {
		fr.Status = StatusError
		fr.Error = err.Error()
		p.cfg.Metrics.file(StatusError)
		log.Warn("file failed", slog.String("error", err.Error()))
		return fr, nil
	}

	format, err := parser.DetectFormat(name)
	if err != nil {
		return fileErr(err)
	}
	pages, err := p.parser.Parse(ctx, data, format, name)
	if err != nil {
		return fileErr(err)
	}

	var frags []chunker.Fragment
	for _, page := range pages {
		for _, f := range chunker.Chunk(page.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap) {
			if strings.TrimSpace(f.Text) == "" {
				continue
			}
			f.FileName = filepath.Base(name)
			f.PageNumber = page.Number
			frags = append(frags, f)
		}
	}
	if len(frags) == 0 {
		log.Info("file produced no fragments")
		p.cfg.Metrics.file(StatusOK)
		return fr, nil
	}

	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Text
	}
	batchOpts := p.cfg.Batch
	batchOpts.Logger = log

	var insertErr error
	err = embedder.EmbedBatches(ctx, p.embedder, texts, batchOpts, func(batch []embedder.Result) error {
		for _, res := range batch {
			if res.Err != nil {
				fr.Skipped++
				p.cfg.Metrics.failed(1)
				continue
			}
			f := frags[res.Index]
			_, insertErr = p.store.Insert(ctx, p.cfg.Table, vectorstore.Row{
				Content:    f.Text,
				Vector:     res.Vector,
				FileName:   f.FileName,
				PageNumber: f.PageNumber,
				ChunkIndex: f.Index,
				Attributes: map[string]string{"format": format.String()},
			})
			if insertErr != nil {
				return insertErr
			}
			fr.Chunks++
			p.cfg.Metrics.stored(1)
		}
		return nil
	})
	switch {
	case insertErr != nil:
		fr.Status, fr.Error = StatusError, insertErr.Error()
		p.cfg.Metrics.file(StatusError)
		if errors.Is(insertErr, vectorstore.ErrDimensionMismatch) {
			return fr, fmt.Errorf("ingestion: %s: %w", name, insertErr)
		}
		log.Warn("insert failed, abandoning file", slog.String("error", insertErr.Error()))
		return fr, nil
	case err != nil:
		fr.Status, fr.Error = StatusError, err.Error()
		p.cfg.Metrics.file(StatusError)
		return fr, fmt.Errorf("ingestion: %w", err)
	}

	p.cfg.Metrics.file(StatusOK)
	log.Info("file ingested",
		slog.Int("chunks", fr.Chunks),
		slog.Int("skipped", fr.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return fr, nil
}
