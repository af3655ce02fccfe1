package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingestion outcomes. A nil *Metrics records nothing.
type Metrics struct {
	// filesTotal counts processed files, partitioned by status: "ok" or "error".
	filesTotal *prometheus.CounterVec

	// fragmentsStored counts fragments persisted with their embedding.
	fragmentsStored prometheus.Counter

	// embeddingFailures counts fragments skipped because embedding failed.
	embeddingFailures prometheus.Counter
}

// NewMetrics registers the ingestion metrics against reg. promauto.With(reg)
// keeps tests hermetic when they pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		filesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of files processed by ingestion, partitioned by status.",
		}, []string{"status"}),

		fragmentsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "ingest",
			Name:      "fragments_stored_total",
			Help:      "Total number of fragments embedded and stored.",
		}),

		embeddingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "ingest",
			Name:      "embedding_failures_total",
			Help:      "Total number of fragments skipped because their embedding failed.",
		}),
	}
}

func (m *Metrics) file(status Status) {
	if m != nil {
		m.filesTotal.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) stored(n int) {
	if m != nil && n > 0 {
		m.fragmentsStored.Add(float64(n))
	}
}

func (m *Metrics) failed(n int) {
	if m != nil && n > 0 {
		m.embeddingFailures.Add(float64(n))
	}
}
