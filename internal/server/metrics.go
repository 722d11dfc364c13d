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

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
// Pass internals (items, clusters, duration) are recorded by the
// orchestrator's own metrics; these cover the triggers.
type serverMetrics struct {
	// passTriggersTotal counts pass triggers by trigger (api, timer) and
	// outcome (ok, error, busy).
	passTriggersTotal *prometheus.CounterVec

	// passInFlight is 1 while a server-triggered pass is running.
	passInFlight prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		passTriggersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "server",
			Name:      "pass_triggers_total",
			Help:      "Clustering pass triggers, partitioned by trigger and outcome.",
		}, []string{"trigger", "outcome"}),

		passInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "triage",
			Subsystem: "server",
			Name:      "pass_in_flight",
			Help:      "1 while a server-triggered clustering pass is running.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// middleware records request count and latency per mux pattern. Unmatched
// requests are labelled "unmatched" to keep cardinality bounded.
func (m *serverMetrics) middleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}

		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}

		start := time.Now()
		mux.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
