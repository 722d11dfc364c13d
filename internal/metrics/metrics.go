// Package metrics registers the Prometheus metrics for clustering passes.
// A nil *Pass is valid and records nothing, so callers that run without a
// registry (tests, one-shot CLI runs) need no special casing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Item result label values.
const (
	ResultAssigned         = "assigned"
	ResultAbsorbed         = "absorbed"
	ResultEmbeddingFailure = "embedding_failure"
	ResultAssignFailure    = "assignment_failure"
	ResultMissing          = "missing"
)

// Pass holds the metrics owned by the batch orchestrator.
type Pass struct {
	// passesTotal counts clustering passes by outcome.
	passesTotal *prometheus.CounterVec
	// itemsTotal counts items handled by passes, partitioned by result.
	itemsTotal *prometheus.CounterVec
	// clustersTotal counts clusters created or updated by committed passes.
	clustersTotal *prometheus.CounterVec
	// summaryFailuresTotal counts summarizer failures.
	summaryFailuresTotal prometheus.Counter
	// passDurationSeconds records the wall-clock duration of each pass.
	passDurationSeconds *prometheus.HistogramVec
	// backlog is the size of the unclustered set after the last pass.
	backlog prometheus.Gauge
}

// NewPass registers the pass metrics against reg. promauto.With(reg) keeps
// tests hermetic when they pass a fresh prometheus.NewRegistry().
func NewPass(reg prometheus.Registerer) *Pass {
	factory := promauto.With(reg)

	return &Pass{
		passesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "pass",
			Name:      "total",
			Help:      "Total number of clustering passes, partitioned by outcome.",
		}, []string{"outcome"}),

		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "pass",
			Name:      "items_total",
			Help:      "Items handled by clustering passes, partitioned by result.",
		}, []string{"result"}),

		clustersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "pass",
			Name:      "clusters_total",
			Help:      "Clusters touched by committed passes, partitioned by kind (new, updated).",
		}, []string{"kind"}),

		summaryFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "pass",
			Name:      "summary_failures_total",
			Help:      "Cluster summaries that failed and kept a previous or fallback title.",
		}),

		passDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "pass",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of clustering passes.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		backlog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "triage",
			Name:      "unclustered_items",
			Help:      "Items left in the unclustered set after the last pass.",
		}),
	}
}

// ObservePass records one finished pass.
func (m *Pass) ObservePass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(outcome).Inc()
	m.passDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddItems adds n items with the given result.
func (m *Pass) AddItems(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(result).Add(float64(n))
}

// AddClusters records newly created and updated clusters.
func (m *Pass) AddClusters(created, updated int) {
	if m == nil {
		return
	}
	m.clustersTotal.WithLabelValues("new").Add(float64(created))
	m.clustersTotal.WithLabelValues("updated").Add(float64(updated))
}

// AddSummaryFailures adds n summarizer failures.
func (m *Pass) AddSummaryFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.summaryFailuresTotal.Add(float64(n))
}

// SetBacklog sets the unclustered backlog gauge.
func (m *Pass) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}
