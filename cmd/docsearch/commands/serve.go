package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/embedder"
	"github.com/54b3r/docsearch-go/internal/ingestion"
	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/rag"
	"github.com/54b3r/docsearch-go/internal/server"
)

// NewServeCmd constructs the `docsearch serve` command, which starts the HTTP
// API for ingestion, search and memory.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docsearch HTTP API",
		Long: `Start the HTTP API on localhost.

Routes:
  POST /api/ingest          multipart upload ("file" parts), or {"path"} with
                            DOCSEARCH_ALLOW_PATH_INGEST=true
  POST /api/search          {"query", "table", "topK", "threshold"}
  POST /api/memory          save a turn {"owner", "content"} or record {"owner", "fields"}
  POST /api/memory/search   {"query", "owner", "session", "kind", "topK"}
  GET  /api/memory/recent   ?owner=&session=&kind=&n=
  GET  /api/health          liveness
  GET  /api/ready           dependency readiness
  GET  /metrics             Prometheus metrics

Set DOCSEARCH_API_KEY to require "Authorization: Bearer <key>" on /api routes.

Examples:
  docsearch serve
  docsearch serve --port 9090
  VECTOR_BACKEND=postgres DATABASE_URL=postgres://... docsearch serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("vector_backend", getEnvOrDefault("VECTOR_BACKEND", "sqlite")))

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svc.Close()

			table := documentTable("")
			pipeline, err := buildPipeline(ctx, svc, table, ingestion.NewMetrics(prometheus.DefaultRegisterer), log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			engine, err := rag.NewEngine(svc.embedder, svc.store, 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			mem, err := buildMemory(svc, "", log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(server.Deps{
				Ingester: pipeline,
				Searcher: engine,
				Memory:   mem,
			}, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         buildPingers(svc, log),
				APIKey:          os.Getenv("DOCSEARCH_API_KEY"),
				AllowPathIngest: getEnvBool("DOCSEARCH_ALLOW_PATH_INGEST", false),
				DefaultTable:    table,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// buildPingers returns the readiness probes: the vector store backend, plus
// the Ollama server when it provides embeddings.
func buildPingers(svc *services, log *slog.Logger) []server.Pinger {
	pingers := []server.Pinger{svc.store.Backend()}

	if embedder.Provider() == "ollama" {
		host := getEnvOrDefault("EMBEDDING_ENDPOINT", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"))
		pingers = append(pingers, server.NewHTTPPinger("ollama",
			strings.TrimRight(host, "/")+"/api/tags",
			&http.Client{Timeout: 3 * time.Second},
		))
	}

	names := make([]string, 0, len(pingers))
	for _, p := range pingers {
		names = append(names, p.Name())
	}
	log.Info("readiness probes configured", slog.Any("pingers", names))
	return pingers
}
