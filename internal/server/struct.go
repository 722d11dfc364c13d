package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/orchestrator"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// must cover a full synchronous pass (default: 15m).
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate per client and route on the
	// mutating routes (requests/second). Defaults to 1 if zero.
	RateLimit float64
	// RateBurst is the burst per client and route. Defaults to 5 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the mutating routes. A
	// comma-separated list accepts any of its keys. Empty disables
	// authentication (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Threshold is the similarity threshold used when a request or the
	// periodic loop does not supply one.
	Threshold float64
	// PassInterval runs a pass on a timer when positive.
	PassInterval time.Duration
	// PassTimeout bounds a single pass (default: 10m).
	PassTimeout time.Duration
	// Version is reported by GET /api/health.
	Version string
}

// Runner is the clustering surface the server exposes.
// *orchestrator.Orchestrator satisfies it; tests inject a fake.
type Runner interface {
	RunClusteringPass(ctx context.Context, threshold float64) (orchestrator.Summary, error)
	ProcessItems(ctx context.Context, ids []string, threshold float64) (orchestrator.Summary, error)
	ListClusters(ctx context.Context) ([]feedback.Cluster, error)
	GetCluster(ctx context.Context, id string) (orchestrator.ClusterDetail, error)
	SetClusterStatus(ctx context.Context, id string, status feedback.Status) error
}

// Server is the ops HTTP server wrapping a clustering Runner.
type Server struct {
	// runner executes passes and serves cluster reads.
	runner Runner
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// passMu admits one pass at a time; extra triggers get 409.
	passMu sync.Mutex
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// passRequest is the JSON body for POST /api/passes. Both fields are optional.
type passRequest struct {
	// Threshold overrides the configured similarity threshold.
	Threshold *float64 `json:"threshold,omitempty"`
	// ItemIDs restricts the pass to these items instead of the whole backlog.
	ItemIDs []string `json:"itemIds,omitempty"`
}

// statusRequest is the JSON body for PUT /api/clusters/{id}/status.
type statusRequest struct {
	Status string `json:"status"`
}

// clusterResponse is one cluster as returned by the read endpoints.
type clusterResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Members   []string          `json:"members,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// errorResponse is the JSON body of every 4xx/5xx produced by the handlers.
type errorResponse struct {
	Error string `json:"error"`
}
