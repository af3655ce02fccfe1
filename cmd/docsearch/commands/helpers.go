package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/docsearch-go/internal/embedder"
	"github.com/54b3r/docsearch-go/internal/ingestion"
	"github.com/54b3r/docsearch-go/internal/memory"
	"github.com/54b3r/docsearch-go/internal/parser"
	"github.com/54b3r/docsearch-go/internal/rag"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// defaultTable is the document table used when DOCSEARCH_TABLE is unset.
const defaultTable = "rag_documents"

// services bundles the constructed store and embedder with their cleanup.
type services struct {
	store    *vectorstore.Store
	embedder rag.Embedder
	closers  []func() error
}

// Close releases everything in reverse construction order.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// buildServices validates the embedder configuration, then opens the
// embedder (optionally behind the bbolt cache) and the vector store selected
// by VECTOR_BACKEND.
func buildServices(ctx context.Context, log *slog.Logger) (*services, error) {
	if err := embedder.ValidateConfig(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, err
	}
	svc := &services{embedder: emb}

	if path := os.Getenv("EMBEDDING_CACHE_PATH"); path != "" {
		cached, err := embedder.NewCachedEmbedder(path, embedder.Provider()+"/"+embedder.Model(), emb, log)
		if err != nil {
			return nil, err
		}
		svc.embedder = cached
		svc.closers = append(svc.closers, cached.Close)
		log.Info("embedding cache enabled", slog.String("path", path))
	}

	store, err := openStore(ctx, log)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.store = store
	svc.closers = append(svc.closers, store.Close)

	log.Info("services ready",
		slog.String("embedding_provider", embedder.Provider()),
		slog.String("embedding_model", embedder.Model()),
		slog.Int("dimension", store.Dimension()),
		slog.String("vector_backend", store.Backend().Name()),
	)
	return svc, nil
}

// openStore opens the backend named by VECTOR_BACKEND and wraps it in a
// Store sized for the configured embedding provider. The caller owns Close.
func openStore(ctx context.Context, log *slog.Logger) (*vectorstore.Store, error) {
	backend, err := openBackend(ctx)
	if err != nil {
		return nil, err
	}
	return vectorstore.New(backend, vectorstore.Options{
		Dimension: embedder.DefaultDimensions(embedder.Provider()),
		Recreate:  recreatePolicy(),
		Logger:    log,
	}), nil
}

// openBackend opens the vector store backend named by VECTOR_BACKEND.
func openBackend(ctx context.Context) (vectorstore.Backend, error) {
	switch name := getEnvOrDefault("VECTOR_BACKEND", "sqlite"); name {
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, errors.New("VECTOR_BACKEND=postgres requires DATABASE_URL")
		}
		return vectorstore.OpenPostgres(ctx, dsn)

	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			p, err := vectorstore.DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return vectorstore.OpenSQLite(path)

	case "qdrant":
		return vectorstore.OpenQdrant(&vectorstore.QdrantConfig{
			Host:   getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:   getEnvInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: getEnvBool("QDRANT_TLS", false),
		})

	case "memory":
		return vectorstore.NewMemoryBackend(false), nil

	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q (valid values: postgres, sqlite, qdrant, memory)", name)
	}
}

// recreatePolicy maps DOCSEARCH_ALLOW_RECREATE onto the store policy.
func recreatePolicy() vectorstore.RecreatePolicy {
	if getEnvBool("DOCSEARCH_ALLOW_RECREATE", true) {
		return vectorstore.RecreateOnce
	}
	return vectorstore.RecreateNever
}

// buildPipeline wires a parser (with OCR when configured) into an ingestion
// pipeline writing to table.
func buildPipeline(ctx context.Context, svc *services, table string, metrics *ingestion.Metrics, log *slog.Logger) (*ingestion.Pipeline, error) {
	ocr, err := parser.NewOCRFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	if ocr == nil {
		log.Info("ocr disabled", slog.String("reason", "OCR_PROVIDER=none or no API key"))
	}

	p := parser.New(&parser.Config{OCR: ocr, Logger: log})
	return ingestion.NewPipeline(p, svc.embedder, svc.store, &ingestion.Config{
		Table:        table,
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
		Batch:        embedder.BatchOptionsFromEnv(),
		Logger:       log,
		Metrics:      metrics,
	})
}

// buildMemory constructs the memory service over the memory table.
func buildMemory(svc *services, table string, log *slog.Logger) (*memory.Service, error) {
	if table == "" {
		table = getEnvOrDefault("DOCSEARCH_MEMORY_TABLE", memory.DefaultTable)
	}
	return memory.NewService(svc.store, svc.embedder, table, log)
}

// documentTable resolves the --table flag against DOCSEARCH_TABLE.
func documentTable(flag string) string {
	if flag != "" {
		return flag
	}
	return getEnvOrDefault("DOCSEARCH_TABLE", defaultTable)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if unset or unparseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvBool parses true/false, 1/0, yes/no. Anything else yields fallback.
func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
