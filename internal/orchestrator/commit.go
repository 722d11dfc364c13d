package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/metastore"
)

// commitAttempts bounds how often a pass replans after another pass
// reassigned one of its items first.
const commitAttempts = 3

// clusterPlan is the metadata write for one touched cluster.
type clusterPlan struct {
	// id is the cluster ID.
	id string
	// created reports whether this pass generated the cluster.
	created bool
	// fields are written to the cluster hash.
	fields map[string]string
	// added are the members gained in this pass.
	added []string
	// removed are members reassigned to another cluster by this pass.
	removed []string
	// emptied reports that removed took the last member; the record is
	// deleted instead of rewritten.
	emptied bool
	// summaryFailed reports that the summary was not regenerated.
	summaryFailed bool
}

// commit plans every touched cluster and applies the pass in one pipeline.
// The pipeline is guarded on each assigned item's stored cluster, so if a
// concurrent pass commits one of the same items first the plan is rebuilt
// from the new state and retried.
func (o *Orchestrator) commit(ctx context.Context, st *passState) ([]clusterPlan, error) {
	var (
		plans []clusterPlan
		err   error
	)
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		var prior map[string]string
		prior, err = o.priorClusters(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("read prior assignments: %w", err)
		}
		plans = o.planClusters(ctx, st, st.departures(prior))

		cctx, cancel := context.WithTimeout(ctx, o.cfg.CommitTimeout)
		err = o.deps.Meta.Pipeline(cctx, o.buildCommit(st, prior, plans))
		cancel()
		if !errors.Is(err, metastore.ErrConflict) {
			return plans, err
		}
		logging.FromContext(ctx).Warn("orchestrator: commit raced another pass, replanning",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return plans, err
}

// priorClusters reads the committed cluster of every assigned item; items
// never clustered map to "".
func (o *Orchestrator) priorClusters(ctx context.Context, st *passState) (map[string]string, error) {
	ids := slices.Sorted(maps.Keys(st.cluster))
	got := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BatchSize)
	for i, id := range ids {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, o.cfg.CallTimeout)
			defer cancel()
			rec, err := o.deps.Meta.HashGet(hctx, o.cfg.Keys.Item(id))
			if err != nil {
				return err
			}
			got[i] = rec[metastore.FieldClusterID]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prior := make(map[string]string, len(ids))
	for i, id := range ids {
		prior[id] = got[i]
	}
	return prior, nil
}

// planClusters regenerates the record of every touched cluster from its full
// membership: clusters that gained members and clusters that lost members
// to another cluster. Clusters are planned concurrently, at most BatchSize
// at once.
func (o *Orchestrator) planClusters(ctx context.Context, st *passState, departed map[string][]string) []clusterPlan {
	deltas := st.deltas()
	touched := maps.Clone(deltas)
	for id := range departed {
		touched[id] = deltas[id]
	}
	ids := slices.Sorted(maps.Keys(touched))

	plans := make([]clusterPlan, len(ids))
	var g errgroup.Group
	g.SetLimit(o.cfg.BatchSize)
	for i, id := range ids {
		g.Go(func() error {
			plans[i] = o.planCluster(ctx, id, deltas[id], departed[id], st.created[id])
			return nil
		})
	}
	_ = g.Wait()
	return plans
}

// tally adds the committed plans to sum.
func tally(plans []clusterPlan, sum *Summary) {
	for _, p := range plans {
		sum.MovedItems += len(p.removed)
		switch {
		case p.emptied:
			sum.RemovedClusters++
		case p.created:
			sum.NewClusters++
		default:
			sum.UpdatedClusters++
		}
		if p.summaryFailed {
			sum.SummaryFailures++
		}
	}
}

// planCluster builds the record for one cluster. A summary failure keeps the
// previous title, or falls back to a headline when there is none.
func (o *Orchestrator) planCluster(ctx context.Context, id string, added, removed []string, created bool) clusterPlan {
	log := logging.FromContext(ctx).With(slog.String("cluster_id", id))
	now := o.cfg.Now().UTC().Format(time.RFC3339)
	plan := clusterPlan{id: id, created: created, added: added, removed: removed, fields: map[string]string{metastore.FieldUpdatedAt: now}}

	members, bodies, err := o.membership(ctx, id, added, removed)
	if err == nil && members == 0 {
		plan.emptied = true
		return plan
	}

	hctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	rec, recErr := o.deps.Meta.HashGet(hctx, o.cfg.Keys.Cluster(id))
	cancel()
	if recErr != nil {
		log.Warn("orchestrator: read cluster record failed", slog.String("error", recErr.Error()))
	}
	// A record is (re)created for new clusters, and for clusters that exist
	// only in the vector index after an earlier failed commit.
	if created || (recErr == nil && rec[metastore.FieldID] == "") {
		plan.fields[metastore.FieldID] = id
		plan.fields[metastore.FieldStatus] = string(feedback.StatusNew)
		plan.fields[metastore.FieldCreatedAt] = now
	}

	var s feedback.Summary
	if err == nil {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		s, err = o.deps.Summarizer.Summarize(sctx, bodies)
		cancel()
	}
	if err != nil {
		plan.summaryFailed = true
		log.Warn("orchestrator: summarize failed", slog.String("error", err.Error()))
		if rec[metastore.FieldTitle] != "" || (recErr != nil && !created) {
			return plan
		}
		s = o.fallbackSummary(ctx, id, bodies)
	}

	plan.fields[metastore.FieldTitle] = s.Title
	plan.fields[metastore.FieldSummary] = s.Summary
	for k, v := range s.Extra {
		plan.fields[metastore.FieldExtraPrefix+k] = v
	}
	return plan
}

// membership loads the bodies of every member of id after this pass: those
// already stored plus added, less removed, oldest first. It also returns the
// member count, which includes members whose body is no longer stored.
func (o *Orchestrator) membership(ctx context.Context, id string, added, removed []string) (int, []feedback.Item, error) {
	mctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	existing, err := o.deps.Meta.SetMembers(mctx, o.cfg.Keys.Members(id))
	cancel()
	if err != nil {
		return 0, nil, err
	}
	all := slices.DeleteFunc(dedupe(append(existing, added...)), func(m string) bool {
		return slices.Contains(removed, m)
	})
	if len(all) == 0 {
		return 0, nil, nil
	}

	ictx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	loaded, err := o.deps.Items.Get(ictx, all)
	cancel()
	if err != nil {
		return len(all), nil, err
	}

	bodies := slices.Collect(maps.Values(loaded))
	slices.SortFunc(bodies, func(a, b feedback.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return len(all), bodies, nil
}

// fallbackSummary titles a cluster without the configured summarizer.
func (o *Orchestrator) fallbackSummary(ctx context.Context, id string, bodies []feedback.Item) feedback.Summary {
	if s, err := o.fallback.Summarize(ctx, bodies); err == nil {
		return s
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return feedback.Summary{Title: "Cluster " + short}
}

// buildCommit turns the pass state into one ordered list of pipeline ops,
// led by a guard on each assigned item's prior cluster.
func (o *Orchestrator) buildCommit(st *passState, prior map[string]string, plans []clusterPlan) []metastore.Op {
	k := o.cfg.Keys
	items := slices.Sorted(maps.Keys(st.cluster))
	ops := make([]metastore.Op, 0, 4*len(plans)+2*len(items)+1)

	for _, id := range items {
		ops = append(ops, metastore.HashExpectOp(k.Item(id), map[string]string{metastore.FieldClusterID: prior[id]}))
	}

	for _, p := range plans {
		if p.emptied {
			ops = append(ops,
				metastore.SetRemoveOp(k.Clusters(), p.id),
				metastore.DeleteOp(k.Cluster(p.id)),
				metastore.DeleteOp(k.Members(p.id)),
			)
			continue
		}
		ops = append(ops,
			metastore.SetAddOp(k.Clusters(), p.id),
			metastore.HashSetOp(k.Cluster(p.id), p.fields),
			metastore.SetAddOp(k.Members(p.id), p.added...),
			metastore.SetRemoveOp(k.Members(p.id), p.removed...),
		)
	}

	for _, id := range items {
		ops = append(ops, metastore.HashSetOp(k.Item(id), map[string]string{
			metastore.FieldClusterID: st.cluster[id],
			metastore.FieldClustered: "1",
			metastore.FieldEmbedded:  "1",
		}))
	}

	remove := append(items, st.missing...)
	ops = append(ops, metastore.SetRemoveOp(k.Unclustered(), remove...))
	return ops
}
