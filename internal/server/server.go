// Package server implements the HTTP API for document ingestion, similarity
// search and memory. The server is started by the `docsearch serve` command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/version"
)

// New constructs a Server exposing deps.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Ingester == nil && deps.Searcher == nil && deps.Memory == nil {
		return nil, fmt.Errorf("server: at least one service must be provided")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the mux. Mutating /api routes sit behind auth and the rate
// limiter; read routes behind auth only; probes and /metrics are open.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	mux := http.NewServeMux()

	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, authMiddleware(s.cfg.APIKey, h)))
	}
	protectLimited := func(pattern, scope string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, authMiddleware(s.cfg.APIKey, rl.middleware(scope, h))))
	}

	if s.deps.Ingester != nil {
		protectLimited("POST /api/ingest", scopeIngest, s.handleIngest)
	}
	if s.deps.Searcher != nil {
		protect("POST /api/search", s.handleSearch)
	}
	if s.deps.Memory != nil {
		protectLimited("POST /api/memory", scopeMemory, s.handleMemorySave)
		protect("POST /api/memory/search", s.handleMemorySearch)
		protect("GET /api/memory/recent", s.handleMemoryRecent)
	}

	mux.Handle("GET /api/health", s.instrument("GET /api/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("GET /api/ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Handler returns the fully wired HTTP handler. Used by tests and by callers
// embedding the API in another server.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := version.Get()
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": v.Version,
		"commit":  v.Commit,
	})
}

// writeJSON encodes body with the given status. Encoding failures are logged
// since the header has already been sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError sends an errorResponse.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
