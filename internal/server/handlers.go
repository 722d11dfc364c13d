package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/triage-go/internal/audit"
	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/orchestrator"
)

// maxBodyBytes bounds request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

// errPassRunning is returned by runPass when another pass holds the lock.
var errPassRunning = errors.New("a clustering pass is already running")

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

// handleRunPass handles POST /api/passes. It runs a pass synchronously and
// returns its Summary. An empty body runs over the whole backlog with the
// configured threshold.
func (s *Server) handleRunPass(w http.ResponseWriter, r *http.Request) {
	var req passRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}

	threshold := s.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := feedback.ValidateThreshold(threshold); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := s.runPass(r.Context(), "api", threshold, req.ItemIDs)
	switch {
	case errors.Is(err, errPassRunning):
		writeError(r.Context(), w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(r.Context(), w, statusFor(err), err.Error())
	default:
		writeJSON(r.Context(), w, http.StatusOK, sum)
	}
}

// runPass runs one pass under the pass lock and records trigger metrics.
// ids selects ProcessItems over the full backlog when non-empty.
func (s *Server) runPass(ctx context.Context, trigger string, threshold float64, ids []string) (orchestrator.Summary, error) {
	if !s.passMu.TryLock() {
		s.metrics.passTriggersTotal.WithLabelValues(trigger, "busy").Inc()
		return orchestrator.Summary{}, errPassRunning
	}
	defer s.passMu.Unlock()

	s.metrics.passInFlight.Set(1)
	defer s.metrics.passInFlight.Set(0)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	var (
		sum orchestrator.Summary
		err error
	)
	if len(ids) > 0 {
		sum, err = s.runner.ProcessItems(ctx, ids, threshold)
	} else {
		sum, err = s.runner.RunClusteringPass(ctx, threshold)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.passTriggersTotal.WithLabelValues(trigger, outcome).Inc()
	return sum, err
}

// handleListClusters handles GET /api/clusters.
func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.runner.ListClusters(r.Context())
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err.Error())
		return
	}
	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, toClusterResponse(c))
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

// handleGetCluster handles GET /api/clusters/{id}.
func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	d, err := s.runner.GetCluster(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err.Error())
		return
	}
	resp := toClusterResponse(d.Cluster)
	resp.Members = d.Members
	resp.Extra = d.Extra
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// handleSetStatus handles PUT /api/clusters/{id}/status.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if err := s.runner.SetClusterStatus(r.Context(), id, feedback.Status(req.Status)); err != nil {
		writeError(r.Context(), w, statusFor(err), err.Error())
		return
	}
	audit.LogMutation(r.Context(), logging.FromContext(r.Context()), audit.Mutation{
		Action: "status", ClusterID: id, Detail: req.Status, Origin: "api", Actor: clientIP(r),
	})
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func toClusterResponse(c feedback.Cluster) clusterResponse {
	return clusterResponse{
		ID:        c.ID,
		Title:     c.Title,
		Summary:   c.Summary,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt.UTC().Truncate(time.Second),
		UpdatedAt: c.UpdatedAt.UTC().Truncate(time.Second),
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case feedback.IsValidation(err):
		return http.StatusBadRequest
	case feedback.IsNotFound(err):
		return http.StatusNotFound
	case feedback.IsStoreError(err):
		return http.StatusServiceUnavailable
	case feedback.IsProviderError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("server: encode response", slog.Any("error", err))
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}
