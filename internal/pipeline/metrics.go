package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pipelineMetrics holds the Prometheus metrics owned by a Pipeline.
type pipelineMetrics struct {
	// reloadsTotal counts index builds, partitioned by outcome.
	reloadsTotal *prometheus.CounterVec
	// indexedChunks is the number of chunks in the live collection.
	indexedChunks prometheus.Gauge
	// queryDuration records embed + query latency, partitioned by outcome.
	queryDuration *prometheus.HistogramVec
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)
	return &pipelineMetrics{
		reloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "pipeline",
			Name:      "reloads_total",
			Help:      "Total number of index builds, partitioned by outcome (success, failure).",
		}, []string{"outcome"}),
		indexedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbrag",
			Subsystem: "pipeline",
			Name:      "indexed_chunks",
			Help:      "Number of chunks in the live collection.",
		}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "Latency of context retrieval (question embedding plus index query).",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}),
	}
}

func (p *Pipeline) observeReload(outcome string) {
	if p.metrics != nil {
		p.metrics.reloadsTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) setIndexed(n int) {
	if p.metrics != nil {
		p.metrics.indexedChunks.Set(float64(n))
	}
}

func (p *Pipeline) observeQuery(outcome string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}
