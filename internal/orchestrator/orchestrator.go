// Package orchestrator drives the assignment engine over the unclustered
// backlog. Items are processed in fixed-size batches, in parallel within a
// batch and sequentially across batches. Per-item failures are counted and
// never abort a pass. Every touched cluster is re-summarized from its full
// membership, and all metadata changes land in one pipelined commit.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/triage-go/internal/cluster"
	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/metastore"
	"github.com/54b3r/triage-go/internal/metrics"
	"github.com/54b3r/triage-go/internal/summarizer"
	"github.com/54b3r/triage-go/internal/vectorstore"
)

// Defaults applied by New when the Config leaves a field zero.
const (
	DefaultBatchSize     = 50
	DefaultCallTimeout   = 30 * time.Second
	DefaultCommitTimeout = 60 * time.Second
)

// Config tunes a pass. The similarity threshold is not part of it: every
// pass receives its threshold explicitly.
type Config struct {
	// BatchSize bounds in-flight items per batch (default: 50).
	BatchSize int
	// TopK is the neighbour count per decision (default: cluster.DefaultTopK).
	TopK int
	// CallTimeout bounds each external call (default: 30s).
	CallTimeout time.Duration
	// CommitTimeout bounds the final pipelined write (default: 60s).
	CommitTimeout time.Duration
	// Keys lays out the metadata store.
	Keys metastore.Keys
	// NewClusterID overrides UUID cluster IDs.
	NewClusterID func() string
	// Now overrides the clock used for record timestamps.
	Now func() time.Time
}

// Deps are the collaborators a pass talks to.
type Deps struct {
	// Items loads item bodies.
	Items feedback.ItemReader
	// Embedder turns text into vectors.
	Embedder feedback.Embedder
	// Summarizer titles clusters. Nil selects summarizer.Headline.
	Summarizer feedback.Summarizer
	// Vectors is the vector store adapter.
	Vectors *vectorstore.Adapter
	// Meta is the metadata store.
	Meta metastore.Store
	// Metrics records pass metrics; nil disables them.
	Metrics *metrics.Pass
}

// Summary reports the outcome of one pass.
type Summary struct {
	// Processed counts unclustered items whose body was loaded and attempted.
	Processed int `json:"processed"`
	// NewClusters counts clusters created by the pass.
	NewClusters int `json:"newClusters"`
	// UpdatedClusters counts pre-existing clusters that gained or lost members.
	UpdatedClusters int `json:"updatedClusters"`
	// AbsorbedItems counts unclustered neighbours folded into new clusters.
	AbsorbedItems int `json:"absorbedItems"`
	// MovedItems counts already clustered items reassigned to a different
	// cluster, such as those passed to ProcessItems a second time.
	MovedItems int `json:"movedItems"`
	// RemovedClusters counts clusters deleted because every member moved out.
	RemovedClusters int `json:"removedClusters"`
	// EmbeddingFailures counts items whose embedding call failed.
	EmbeddingFailures int `json:"embeddingFailures"`
	// AssignmentFailures counts items whose vector store work failed.
	AssignmentFailures int `json:"assignmentFailures"`
	// SummaryFailures counts clusters whose summary could not be regenerated.
	SummaryFailures int `json:"summaryFailures"`
	// MissingItems counts IDs with no stored item, dropped from the backlog.
	MissingItems int `json:"missingItems"`
	// Duration is the wall-clock time of the pass.
	Duration time.Duration `json:"-"`
	// DurationMs is Duration in milliseconds.
	DurationMs int64 `json:"durationMs"`
	// Threshold is the similarity threshold the pass used.
	Threshold float64 `json:"threshold"`
}

// Orchestrator runs clustering passes. Passes may overlap: the commit is
// guarded on each item's stored cluster, so when two passes assign the same
// item the later commit replans against the earlier one's result.
type Orchestrator struct {
	// deps are the external collaborators.
	deps Deps
	// fallback titles clusters when the summarizer fails on a new cluster.
	fallback feedback.Summarizer
	// engine makes per-item decisions.
	engine *cluster.Engine
	// cfg is the resolved configuration.
	cfg Config
}

// New constructs an Orchestrator, applying defaults to cfg.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Items == nil:
		return nil, fmt.Errorf("orchestrator: item reader must not be nil")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("orchestrator: embedder must not be nil")
	case deps.Vectors == nil:
		return nil, fmt.Errorf("orchestrator: vector store must not be nil")
	case deps.Meta == nil:
		return nil, fmt.Errorf("orchestrator: metadata store must not be nil")
	}
	if deps.Summarizer == nil {
		deps.Summarizer = summarizer.Headline{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = cluster.DefaultTopK
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := []cluster.Option{cluster.WithTopK(cfg.TopK)}
	if cfg.NewClusterID != nil {
		opts = append(opts, cluster.WithIDGenerator(cfg.NewClusterID))
	}
	engine, err := cluster.New(deps.Vectors, opts...)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return &Orchestrator{deps: deps, fallback: summarizer.Headline{}, engine: engine, cfg: cfg}, nil
}

// RunClusteringPass assigns every item in the unclustered set. An empty set
// returns a zero Summary. The error is non-nil only when the backlog cannot
// be read or the final commit fails.
func (o *Orchestrator) RunClusteringPass(ctx context.Context, threshold float64) (Summary, error) {
	start := time.Now()
	if err := feedback.ValidateThreshold(threshold); err != nil {
		return Summary{Threshold: threshold}, err
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	ids, err := o.deps.Meta.SetMembers(cctx, o.cfg.Keys.Unclustered())
	cancel()
	if err != nil {
		o.deps.Metrics.ObservePass(metrics.OutcomeError, time.Since(start))
		return Summary{Threshold: threshold}, fmt.Errorf("orchestrator: read backlog: %w", err)
	}
	return o.run(ctx, ids, threshold, start)
}

// ProcessItems runs a pass over an explicit list of item IDs. An empty list
// is a *feedback.ValidationError. IDs that are already clustered are decided
// again; one that lands in a different cluster leaves its old cluster, which
// is re-summarized, or deleted when it has no members left.
func (o *Orchestrator) ProcessItems(ctx context.Context, ids []string, threshold float64) (Summary, error) {
	start := time.Now()
	if err := feedback.ValidateThreshold(threshold); err != nil {
		return Summary{Threshold: threshold}, err
	}
	if len(ids) == 0 {
		return Summary{Threshold: threshold}, &feedback.ValidationError{Field: "item_ids", Reason: "must not be empty"}
	}
	return o.run(ctx, ids, threshold, start)
}

// run is the shared body of a pass.
func (o *Orchestrator) run(ctx context.Context, ids []string, threshold float64, start time.Time) (Summary, error) {
	log := logging.FromContext(ctx)
	sum := Summary{Threshold: threshold}

	ids = dedupe(ids)
	if len(ids) == 0 {
		return o.finish(ctx, sum, start, metrics.OutcomeEmpty, nil)
	}

	st := newPassState()
	for n, batch := range batches(ids, o.cfg.BatchSize) {
		pending := st.pending(batch)
		if len(pending) == 0 {
			continue
		}
		o.runBatch(ctx, pending, threshold, st, &sum)
		log.Info("orchestrator: batch complete",
			slog.Int("batch", n+1),
			slog.Int("items", len(pending)),
			slog.Int("assigned", len(st.cluster)),
			slog.Int("embedding_failures", sum.EmbeddingFailures),
			slog.Int("assignment_failures", sum.AssignmentFailures),
		)
	}

	sum.MissingItems = len(st.missing)
	sum.AbsorbedItems = st.absorbedCount()
	o.deps.Metrics.AddItems(metrics.ResultMissing, len(st.missing))
	o.deps.Metrics.AddItems(metrics.ResultAssigned, len(st.cluster)-sum.AbsorbedItems)
	o.deps.Metrics.AddItems(metrics.ResultAbsorbed, sum.AbsorbedItems)

	if len(st.cluster) == 0 && len(st.missing) == 0 {
		return o.finish(ctx, sum, start, metrics.OutcomeOK, nil)
	}

	plans, err := o.commit(ctx, st)
	tally(plans, &sum)
	if err != nil {
		return o.finish(ctx, sum, start, metrics.OutcomeError, fmt.Errorf("orchestrator: commit: %w", err))
	}

	o.deps.Metrics.AddClusters(sum.NewClusters, sum.UpdatedClusters)
	o.deps.Metrics.AddSummaryFailures(sum.SummaryFailures)
	return o.finish(ctx, sum, start, metrics.OutcomeOK, nil)
}

// finish stamps the duration, records metrics and logs the pass result.
func (o *Orchestrator) finish(ctx context.Context, sum Summary, start time.Time, outcome string, err error) (Summary, error) {
	sum.Duration = time.Since(start)
	sum.DurationMs = sum.Duration.Milliseconds()
	o.deps.Metrics.ObservePass(outcome, sum.Duration)
	if o.deps.Metrics != nil && err == nil {
		bctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		backlog, berr := o.deps.Meta.SetMembers(bctx, o.cfg.Keys.Unclustered())
		cancel()
		if berr == nil {
			o.deps.Metrics.SetBacklog(len(backlog))
		}
	}

	attrs := []any{
		slog.String("outcome", outcome),
		slog.Int("processed", sum.Processed),
		slog.Int("new_clusters", sum.NewClusters),
		slog.Int("updated_clusters", sum.UpdatedClusters),
		slog.Int("absorbed_items", sum.AbsorbedItems),
		slog.Int("moved_items", sum.MovedItems),
		slog.Int("removed_clusters", sum.RemovedClusters),
		slog.Int("embedding_failures", sum.EmbeddingFailures),
		slog.Int("assignment_failures", sum.AssignmentFailures),
		slog.Int("summary_failures", sum.SummaryFailures),
		slog.Int("missing_items", sum.MissingItems),
		slog.Float64("threshold", sum.Threshold),
		slog.Int64("duration_ms", sum.DurationMs),
	}
	log := logging.FromContext(ctx)
	if err != nil {
		log.Error("orchestrator: pass failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		log.Info("orchestrator: pass complete", attrs...)
	}
	return sum, err
}

// outcome is the result of one item's embed-and-assign step.
type outcome struct {
	itemID      string
	assignment  *cluster.Assignment
	err         error
	embedFailed bool
}

// runBatch loads, embeds and assigns one batch, then merges the results
// into st. Each goroutine writes only its own slot of outcomes.
func (o *Orchestrator) runBatch(ctx context.Context, ids []string, threshold float64, st *passState, sum *Summary) {
	log := logging.FromContext(ctx)

	lctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	loaded, err := o.deps.Items.Get(lctx, ids)
	cancel()
	if err != nil {
		log.Warn("orchestrator: load items failed, batch left for next pass",
			slog.Int("items", len(ids)),
			slog.String("error", err.Error()),
		)
		sum.AssignmentFailures += len(ids)
		o.deps.Metrics.AddItems(metrics.ResultAssignFailure, len(ids))
		return
	}

	present := make([]feedback.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := loaded[id]; ok {
			present = append(present, it)
		} else {
			st.missing = append(st.missing, id)
		}
	}
	sum.Processed += len(present)

	outcomes := make([]outcome, len(present))
	var g errgroup.Group
	for i, it := range present {
		g.Go(func() error {
			outcomes[i] = o.assignOne(ctx, it, threshold)
			return nil
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		if oc.err == nil {
			continue
		}
		if oc.embedFailed {
			sum.EmbeddingFailures++
			o.deps.Metrics.AddItems(metrics.ResultEmbeddingFailure, 1)
		} else {
			sum.AssignmentFailures++
			o.deps.Metrics.AddItems(metrics.ResultAssignFailure, 1)
		}
		log.Warn("orchestrator: item failed",
			slog.String("item_id", oc.itemID),
			slog.Bool("embedding", oc.embedFailed),
			slog.String("error", oc.err.Error()),
		)
	}

	fixups := st.merge(outcomes)
	if len(fixups) == 0 {
		return
	}

	// The vector index may hold the losing cluster for these items; rewrite
	// it to the cluster the commit will record.
	moves := make([]vectorstore.Assignment, 0, len(fixups))
	for _, id := range fixups {
		moves = append(moves, vectorstore.Assignment{ItemID: id, ClusterID: st.cluster[id]})
	}
	fctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	err = o.deps.Vectors.UpdateClusterAssignmentBatch(fctx, moves)
	cancel()
	if err != nil {
		log.Warn("orchestrator: conflict rewrite failed, items left for next pass",
			slog.Int("items", len(fixups)),
			slog.String("error", err.Error()),
		)
		for _, id := range fixups {
			st.drop(id)
		}
		sum.AssignmentFailures += len(fixups)
		o.deps.Metrics.AddItems(metrics.ResultAssignFailure, len(fixups))
	}
}

// assignOne embeds it and runs the engine, each under its own timeout.
func (o *Orchestrator) assignOne(ctx context.Context, it feedback.Item, threshold float64) outcome {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	vec, err := o.deps.Embedder.Embed(ectx, it.Text)
	cancel()
	if err != nil {
		return outcome{itemID: it.ID, err: err, embedFailed: true}
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	a, err := o.engine.Assign(actx, it, vec, threshold)
	if err != nil {
		return outcome{itemID: it.ID, err: err}
	}
	return outcome{itemID: it.ID, assignment: a}
}

// dedupe returns ids sorted with duplicates and empties removed.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// batches splits ids into consecutive chunks of at most size.
func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
