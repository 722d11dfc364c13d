package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/metastore"
	"github.com/54b3r/triage-go/internal/vectorstore"
)

// Drift kinds reported by Verify.
const (
	// DriftMissingVector: the metadata store lists the member but the vector
	// index has no vector for it.
	DriftMissingVector = "missing_vector"
	// DriftIndexMismatch: the vector exists but does not carry the cluster.
	DriftIndexMismatch = "index_mismatch"
	// DriftIndexOnly: the vector carries the cluster but the metadata store
	// does not list the item as a member, and it is not queued.
	DriftIndexOnly = "index_only"
)

// Drift is one disagreement between the metadata store and the vector index
// about a single cluster member.
type Drift struct {
	ItemID    string `json:"itemId"`
	ClusterID string `json:"clusterId"`
	Kind      string `json:"kind"`
	Repaired  bool   `json:"repaired"`
}

// VerifyReport is the result of a consistency check.
type VerifyReport struct {
	// Clusters is the number of clusters checked.
	Clusters int `json:"clusters"`
	// Members is the number of memberships recorded in the metadata store.
	Members int `json:"members"`
	// Drift lists every disagreement found, ordered by cluster then item.
	Drift []Drift `json:"drift"`
}

// Verify compares every cluster's membership set with the cluster IDs stored
// in the vector index. The metadata store is authoritative since it only
// changes through a committed pass. Items still queued are skipped: a pass
// that failed at commit leaves their vectors ahead of the metadata, and the
// next pass settles them.
//
// With repair set, mismatched vectors are re-tagged, missing vectors are
// re-embedded from the item body, and index-only items are queued again.
func (o *Orchestrator) Verify(ctx context.Context, repair bool) (VerifyReport, error) {
	k := o.cfg.Keys
	log := logging.FromContext(ctx)

	clusters, err := o.deps.Meta.SetMembers(ctx, k.Clusters())
	if err != nil {
		return VerifyReport{}, fmt.Errorf("orchestrator: verify: list clusters: %w", err)
	}
	slices.Sort(clusters)
	queued, err := o.deps.Meta.SetMembers(ctx, k.Unclustered())
	if err != nil {
		return VerifyReport{}, fmt.Errorf("orchestrator: verify: read backlog: %w", err)
	}
	pending := toSet(queued)

	report := VerifyReport{Clusters: len(clusters), Drift: []Drift{}}
	for _, id := range clusters {
		members, err := o.deps.Meta.SetMembers(ctx, k.Members(id))
		if err != nil {
			return report, fmt.Errorf("orchestrator: verify: members of %s: %w", id, err)
		}
		report.Members += len(members)

		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		indexed, err := o.deps.Vectors.GetClusterMembers(cctx, id)
		cancel()
		if err != nil {
			return report, fmt.Errorf("orchestrator: verify: index members of %s: %w", id, err)
		}

		drift, err := o.diffCluster(ctx, id, members, indexed, pending)
		if err != nil {
			return report, err
		}
		if repair {
			for i := range drift {
				o.repair(ctx, &drift[i])
			}
		}
		report.Drift = append(report.Drift, drift...)
	}

	log.Info("orchestrator: verify complete",
		slog.Int("clusters", report.Clusters),
		slog.Int("members", report.Members),
		slog.Int("drift", len(report.Drift)),
		slog.Bool("repair", repair),
	)
	return report, nil
}

// diffCluster classifies the disagreements for one cluster.
func (o *Orchestrator) diffCluster(ctx context.Context, id string, members, indexed []string, pending map[string]struct{}) ([]Drift, error) {
	inMeta := toSet(members)
	inIndex := toSet(indexed)

	var out []Drift
	for _, m := range slices.Sorted(maps.Keys(inMeta)) {
		if _, ok := inIndex[m]; ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		has, err := o.deps.Vectors.HasVector(cctx, m)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: verify: %w", err)
		}
		kind := DriftIndexMismatch
		if !has {
			kind = DriftMissingVector
		}
		out = append(out, Drift{ItemID: m, ClusterID: id, Kind: kind})
	}
	for _, m := range slices.Sorted(maps.Keys(inIndex)) {
		if _, ok := inMeta[m]; ok {
			continue
		}
		if _, ok := pending[m]; ok {
			continue
		}
		out = append(out, Drift{ItemID: m, ClusterID: id, Kind: DriftIndexOnly})
	}
	return out, nil
}

// repair fixes one drift entry in place. Failures are logged and leave
// Repaired false; a later Verify reports the entry again.
func (o *Orchestrator) repair(ctx context.Context, d *Drift) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	var err error
	switch d.Kind {
	case DriftIndexMismatch:
		err = o.deps.Vectors.UpdateClusterAssignment(cctx, d.ItemID, d.ClusterID)
	case DriftMissingVector:
		err = o.reembed(cctx, d.ItemID, d.ClusterID)
	case DriftIndexOnly:
		err = o.deps.Meta.SetAdd(cctx, o.cfg.Keys.Unclustered(), d.ItemID)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("orchestrator: repair failed",
			slog.String("item_id", d.ItemID),
			slog.String("cluster_id", d.ClusterID),
			slog.String("kind", d.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	d.Repaired = true
}

// reembed restores the vector of a member whose vector was lost.
func (o *Orchestrator) reembed(ctx context.Context, itemID, clusterID string) error {
	bodies, err := o.deps.Items.Get(ctx, []string{itemID})
	if err != nil {
		return err
	}
	it, ok := bodies[itemID]
	if !ok {
		return &feedback.NotFoundError{Kind: "item", ID: itemID}
	}
	vec, err := o.deps.Embedder.Embed(ctx, it.Text)
	if err != nil {
		return err
	}
	return o.deps.Vectors.Upsert(ctx, itemID, vec, vectorstore.Metadata{
		ClusterID: clusterID,
		Source:    it.Source,
		CreatedAt: it.CreatedAt,
	})
}

// Match is one cluster member ranked against a query text.
type Match struct {
	ItemID string  `json:"itemId"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
}

// SearchCluster embeds text and returns the topK members of cluster id
// nearest to it, by descending score.
func (o *Orchestrator) SearchCluster(ctx context.Context, id, text string, topK int) ([]Match, error) {
	if text == "" {
		return nil, &feedback.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if topK <= 0 {
		topK = o.cfg.TopK
	}
	rec, err := o.deps.Meta.HashGet(ctx, o.cfg.Keys.Cluster(id))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: search cluster: %w", err)
	}
	if rec[metastore.FieldID] == "" {
		return nil, &feedback.NotFoundError{Kind: "cluster", ID: id}
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	vec, err := o.deps.Embedder.Embed(cctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := o.deps.Vectors.FindSimilarInCluster(cctx, vec, id, topK)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	bodies, err := o.deps.Items.Get(cctx, ids)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: search cluster: %w", err)
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = Match{ItemID: h.ID, Score: h.Score, Text: bodies[h.ID].Text}
	}
	return out, nil
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
