package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the mux pattern rather than the raw URL path.
	labelHandler = "handler"
)

// Search outcomes recorded by searchRequestsTotal.
const (
	outcomeOK      = "ok"
	outcomeNoData  = "no_data"
	outcomeNoMatch = "no_match"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// searchRequestsTotal counts search requests, partitioned by kind
	// ("documents" or "memory") and outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records search latency including query embedding.
	searchDurationSeconds *prometheus.HistogramVec

	// ingestRequestsTotal counts ingest requests by outcome.
	ingestRequestsTotal *prometheus.CounterVec

	// ingestActive is the number of ingest requests currently running.
	ingestActive prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),

		searchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docsearch",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of search requests including query embedding.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of ingest requests, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docsearch",
			Subsystem: "ingest",
			Name:      "active_requests",
			Help:      "Number of ingest requests currently running.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docsearch",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for the route registered
// under pattern.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
