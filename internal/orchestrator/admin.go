package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/metastore"
)

// ResetSummary reports what a full reset cleared.
type ResetSummary struct {
	// Clusters is the number of cluster records deleted.
	Clusters int `json:"clusters"`
	// Items is the number of members returned to the unclustered set.
	Items int `json:"items"`
}

// Reset deletes every cluster, returns every member to the unclustered set
// and deletes their vectors so the next pass re-embeds them. The metadata
// side is one pipelined commit; vectors are deleted after it succeeds.
func (o *Orchestrator) Reset(ctx context.Context) (ResetSummary, error) {
	k := o.cfg.Keys
	log := logging.FromContext(ctx)

	clusters, err := o.deps.Meta.SetMembers(ctx, k.Clusters())
	if err != nil {
		return ResetSummary{}, fmt.Errorf("orchestrator: reset: list clusters: %w", err)
	}
	slices.Sort(clusters)

	var items []string
	ops := make([]metastore.Op, 0, 2*len(clusters)+2)
	for _, id := range clusters {
		members, err := o.deps.Meta.SetMembers(ctx, k.Members(id))
		if err != nil {
			return ResetSummary{}, fmt.Errorf("orchestrator: reset: members of %s: %w", id, err)
		}
		items = append(items, members...)
		ops = append(ops, metastore.DeleteOp(k.Cluster(id)), metastore.DeleteOp(k.Members(id)))
	}
	items = dedupe(items)

	for _, id := range items {
		ops = append(ops, metastore.HashDeleteOp(k.Item(id),
			metastore.FieldClusterID, metastore.FieldClustered, metastore.FieldEmbedded))
	}
	ops = append(ops,
		metastore.SetAddOp(k.Unclustered(), items...),
		metastore.DeleteOp(k.Clusters()),
	)

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CommitTimeout)
	err = o.deps.Meta.Pipeline(cctx, ops)
	cancel()
	if err != nil {
		return ResetSummary{}, fmt.Errorf("orchestrator: reset: commit: %w", err)
	}

	for _, batch := range batches(items, o.cfg.BatchSize) {
		dctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		err := o.deps.Vectors.DeleteBatch(dctx, batch)
		cancel()
		if err != nil {
			return ResetSummary{Clusters: len(clusters), Items: len(items)},
				fmt.Errorf("orchestrator: reset: delete vectors: %w", err)
		}
	}

	log.Info("orchestrator: reset complete",
		slog.Int("clusters", len(clusters)),
		slog.Int("items", len(items)),
	)
	return ResetSummary{Clusters: len(clusters), Items: len(items)}, nil
}

// SetClusterStatus moves a cluster to status. Unknown clusters return a
// *feedback.NotFoundError.
func (o *Orchestrator) SetClusterStatus(ctx context.Context, id string, status feedback.Status) error {
	if _, err := feedback.ParseStatus(string(status)); err != nil {
		return err
	}
	rec, err := o.deps.Meta.HashGet(ctx, o.cfg.Keys.Cluster(id))
	if err != nil {
		return fmt.Errorf("orchestrator: set status: %w", err)
	}
	if rec[metastore.FieldID] == "" {
		return &feedback.NotFoundError{Kind: "cluster", ID: id}
	}
	err = o.deps.Meta.HashSet(ctx, o.cfg.Keys.Cluster(id), map[string]string{
		metastore.FieldStatus:    string(status),
		metastore.FieldUpdatedAt: o.cfg.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("orchestrator: set status: %w", err)
	}
	return nil
}

// ClusterDetail is a cluster record with its members and summarizer extras.
type ClusterDetail struct {
	feedback.Cluster
	// Members are the member item IDs, sorted.
	Members []string
	// Extra holds summarizer-provided fields.
	Extra map[string]string
}

// GetCluster loads one cluster and its members.
func (o *Orchestrator) GetCluster(ctx context.Context, id string) (ClusterDetail, error) {
	rec, err := o.deps.Meta.HashGet(ctx, o.cfg.Keys.Cluster(id))
	if err != nil {
		return ClusterDetail{}, fmt.Errorf("orchestrator: get cluster: %w", err)
	}
	if rec[metastore.FieldID] == "" {
		return ClusterDetail{}, &feedback.NotFoundError{Kind: "cluster", ID: id}
	}
	members, err := o.deps.Meta.SetMembers(ctx, o.cfg.Keys.Members(id))
	if err != nil {
		return ClusterDetail{}, fmt.Errorf("orchestrator: get cluster: %w", err)
	}
	slices.Sort(members)

	d := ClusterDetail{Cluster: decodeCluster(rec), Members: members}
	for f, v := range rec {
		if name, ok := strings.CutPrefix(f, metastore.FieldExtraPrefix); ok {
			if d.Extra == nil {
				d.Extra = make(map[string]string)
			}
			d.Extra[name] = v
		}
	}
	return d, nil
}

// ListClusters returns every cluster record, most recently updated first.
// Ties are ordered by ID.
func (o *Orchestrator) ListClusters(ctx context.Context) ([]feedback.Cluster, error) {
	ids, err := o.deps.Meta.SetMembers(ctx, o.cfg.Keys.Clusters())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list clusters: %w", err)
	}
	slices.Sort(ids)

	out := make([]feedback.Cluster, 0, len(ids))
	for _, id := range ids {
		rec, err := o.deps.Meta.HashGet(ctx, o.cfg.Keys.Cluster(id))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: list clusters: %w", err)
		}
		if rec[metastore.FieldID] == "" {
			continue
		}
		out = append(out, decodeCluster(rec))
	}
	slices.SortStableFunc(out, func(a, b feedback.Cluster) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

// decodeCluster maps a cluster hash onto feedback.Cluster.
func decodeCluster(rec map[string]string) feedback.Cluster {
	c := feedback.Cluster{
		ID:      rec[metastore.FieldID],
		Title:   rec[metastore.FieldTitle],
		Summary: rec[metastore.FieldSummary],
		Status:  feedback.Status(rec[metastore.FieldStatus]),
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, rec[metastore.FieldCreatedAt])
	c.UpdatedAt, _ = time.Parse(time.RFC3339, rec[metastore.FieldUpdatedAt])
	return c
}
