package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docsearch-go/internal/ingestion"
	"github.com/54b3r/docsearch-go/internal/memory"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request, including
	// multipart uploads.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Folder
	// ingestion responds only once the run completes, so keep it generous.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// SearchTimeout bounds a single search or memory search request.
	// Defaults to 30s.
	SearchTimeout time.Duration
	// MaxUploadBytes caps multipart request bodies on POST /api/ingest.
	// Defaults to 64 MiB.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// AllowPathIngest lets POST /api/ingest accept a JSON {"path"} naming a
	// file or folder on the server's filesystem. Disabled by default.
	AllowPathIngest bool
	// DefaultTable is searched when a request names no table.
	DefaultTable string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Ingester runs documents through the ingestion pipeline.
// *ingestion.Pipeline satisfies it.
type Ingester interface {
	IngestBytes(ctx context.Context, name string, data []byte) (*ingestion.Report, error)
	IngestPath(ctx context.Context, path string, progress ingestion.ProgressFunc) (*ingestion.Report, error)
}

// Searcher answers free-text queries against a document table.
// *rag.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query, table string, opts vectorstore.SearchOptions) ([]vectorstore.Result, error)
}

// Memory stores and searches conversation turns and records.
// *memory.Service satisfies it.
type Memory interface {
	SaveTurn(ctx context.Context, t memory.Turn) (memory.Saved, error)
	SaveRecord(ctx context.Context, r memory.Record) (memory.Saved, error)
	Search(ctx context.Context, query string, opts memory.Options) ([]vectorstore.Result, error)
	Recent(ctx context.Context, opts memory.Options, n int) ([]vectorstore.Row, error)
}

// Deps are the domain services the server exposes. Nil services leave their
// routes unregistered.
type Deps struct {
	Ingester Ingester
	Searcher Searcher
	Memory   Memory
}

// Server is the HTTP API in front of ingestion, search and memory.
type Server struct {
	// deps holds the domain services behind the handlers.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestPathRequest is the JSON body for POST /api/ingest when
// AllowPathIngest is enabled.
type ingestPathRequest struct {
	// Path is a file or folder on the server's filesystem.
	Path string `json:"path"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query string `json:"query"`
	Table string `json:"table,omitempty"`
	TopK  int    `json:"topK,omitempty"`
	// Threshold is optional; when absent no similarity cutoff applies.
	Threshold *float64 `json:"threshold,omitempty"`
}

// searchResponse is the JSON body returned by POST /api/search and
// POST /api/memory/search.
type searchResponse struct {
	Results []resultView `json:"results"`
}

// resultView is the wire form of a ranked row. Vectors are never returned.
type resultView struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	FileName   string            `json:"fileName,omitempty"`
	PageNumber int               `json:"pageNumber,omitempty"`
	ChunkIndex int               `json:"chunkIndex"`
	Owner      string            `json:"owner,omitempty"`
	Session    string            `json:"session,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	Similarity float64           `json:"similarity,omitempty"`
}

// memorySaveRequest is the JSON body for POST /api/memory. Exactly one of
// Content or Fields must be set: Content saves a turn, Fields a record.
type memorySaveRequest struct {
	Owner    string            `json:"owner"`
	Session  string            `json:"session,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Row      int               `json:"row,omitempty"`
}

// memorySearchRequest is the JSON body for POST /api/memory/search.
type memorySearchRequest struct {
	Query string `json:"query"`
	memory.Options
}

// memoryRecentResponse is the JSON body returned by GET /api/memory/recent.
type memoryRecentResponse struct {
	Entries []resultView `json:"entries"`
}

// errorResponse is the JSON body for every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
