package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/items"
	"github.com/54b3r/triage-go/internal/metastore"
	"github.com/54b3r/triage-go/internal/metrics"
	"github.com/54b3r/triage-go/internal/vector"
	"github.com/54b3r/triage-go/internal/vectorstore"
)

// at returns a unit vector whose cosine similarity to at(1) is score.
func at(score float64) []float32 {
	theta := math.Acos(score)
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}
}

type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	calls atomic.Int64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vecs[text]
	if !ok {
		return nil, &feedback.ProviderError{Provider: "fake", Op: "embed", Err: errors.New("503 from upstream")}
	}
	return v, nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	fail  bool
	sizes []int
}

func (f *fakeSummarizer) Summarize(_ context.Context, its []feedback.Item) (feedback.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, len(its))
	if f.fail {
		return feedback.Summary{}, &feedback.ProviderError{Provider: "fake", Op: "summarize", Err: errors.New("timeout")}
	}
	ids := make([]string, 0, len(its))
	for _, it := range its {
		ids = append(ids, it.ID)
	}
	return feedback.Summary{
		Title:   "T:" + strings.Join(ids, ","),
		Summary: fmt.Sprintf("%d items", len(its)),
		Extra:   map[string]string{"severity": "low"},
	}, nil
}

func (f *fakeSummarizer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// failingPipeline wraps a Store and fails every Pipeline call while armed.
// A hook set with beforeNextPipeline runs once, ahead of the next commit.
// While stallBacklog is set, reads of the unclustered set block until their
// context ends.
type failingPipeline struct {
	metastore.Store
	armed        atomic.Bool
	stallBacklog atomic.Bool
	backlogKey   string
	next         atomic.Pointer[func()]
}

func (f *failingPipeline) Pipeline(ctx context.Context, ops []metastore.Op) error {
	if hook := f.next.Swap(nil); hook != nil {
		(*hook)()
	}
	if f.armed.Load() {
		return &feedback.StoreError{Store: "redis", Op: "pipeline", Err: errors.New("connection reset")}
	}
	return f.Store.Pipeline(ctx, ops)
}

func (f *failingPipeline) SetMembers(ctx context.Context, key string) ([]string, error) {
	if key == f.backlogKey && f.stallBacklog.Load() {
		<-ctx.Done()
		return nil, &feedback.StoreError{Store: "redis", Op: "smembers", Err: ctx.Err()}
	}
	return f.Store.SetMembers(ctx, key)
}

func (f *failingPipeline) beforeNextPipeline(hook func()) { f.next.Store(&hook) }

type env struct {
	orch    *Orchestrator
	meta    *failingPipeline
	items   *items.SQLiteStore
	vectors *vectorstore.Adapter
	emb     *fakeEmbedder
	sum     *fakeSummarizer
	keys    metastore.Keys
	reg     *prometheus.Registry
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()

	idx, err := vector.OpenBoltIndex(filepath.Join(t.TempDir(), "vectors.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	vs, err := vectorstore.New(idx)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rs, err := metastore.NewRedisStore(&metastore.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	meta := &failingPipeline{Store: rs, backlogKey: "test:unclustered"}

	is, err := items.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = is.Close() })

	var n atomic.Int64
	cfg.NewClusterID = func() string { return fmt.Sprintf("c%03d", n.Add(1)) }
	cfg.Keys = metastore.Keys{Prefix: "test:"}

	e := &env{
		meta:    meta,
		items:   is,
		vectors: vs,
		emb:     &fakeEmbedder{vecs: map[string][]float32{}},
		sum:     &fakeSummarizer{},
		keys:    cfg.Keys,
		reg:     prometheus.NewRegistry(),
	}
	e.orch, err = New(Deps{
		Items:      is,
		Embedder:   e.emb,
		Summarizer: e.sum,
		Vectors:    vs,
		Meta:       meta,
		Metrics:    metrics.NewPass(e.reg),
	}, cfg)
	require.NoError(t, err)
	return e
}

// ingest stores an item, queues it and teaches the embedder its vector.
func (e *env) ingest(t *testing.T, id string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	text := "text of " + id
	require.NoError(t, e.items.Put(ctx, feedback.Item{ID: id, Text: text, CreatedAt: time.Unix(int64(len(id)), 0)}))
	require.NoError(t, e.meta.SetAdd(ctx, e.keys.Unclustered(), id))
	if vec != nil {
		e.emb.mu.Lock()
		e.emb.vecs[text] = vec
		e.emb.mu.Unlock()
	}
}

// preEmbed stores an unclustered vector for id without assigning it.
func (e *env) preEmbed(t *testing.T, id string, vec []float32) {
	t.Helper()
	require.NoError(t, e.vectors.Upsert(context.Background(), id, vec, vectorstore.Metadata{}))
}

func (e *env) unclustered(t *testing.T) []string {
	t.Helper()
	ids, err := e.meta.SetMembers(context.Background(), e.keys.Unclustered())
	require.NoError(t, err)
	slices.Sort(ids)
	return ids
}

func (e *env) clusterOf(t *testing.T, item string) string {
	t.Helper()
	h, err := e.meta.HashGet(context.Background(), e.keys.Item(item))
	require.NoError(t, err)
	return h[metastore.FieldClusterID]
}

func (e *env) members(t *testing.T, cid string) []string {
	t.Helper()
	m, err := e.meta.SetMembers(context.Background(), e.keys.Members(cid))
	require.NoError(t, err)
	slices.Sort(m)
	return m
}

// assertConsistent checks that every item is either unclustered or a member
// of exactly one cluster, and that both stores agree on that cluster.
func (e *env) assertConsistent(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	clusters, err := e.meta.SetMembers(ctx, e.keys.Clusters())
	require.NoError(t, err)
	un := e.unclustered(t)

	for _, id := range ids {
		var in []string
		for _, c := range clusters {
			if slices.Contains(e.members(t, c), id) {
				in = append(in, c)
			}
		}
		if slices.Contains(un, id) {
			assert.Empty(t, in, "%s is unclustered but listed in clusters", id)
			assert.Empty(t, e.clusterOf(t, id), "%s is unclustered but flagged", id)
			continue
		}
		require.Len(t, in, 1, "%s must be in exactly one cluster", id)
		assert.Equal(t, in[0], e.clusterOf(t, id))
		vecMembers, err := e.vectors.GetClusterMembers(ctx, in[0])
		require.NoError(t, err)
		assert.Contains(t, vecMembers, id, "vector index disagrees for %s", id)
	}
}

func TestRun_EmptyBacklog(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	sum, err := e.orch.RunClusteringPass(context.Background(), 0.82)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, sum.NewClusters)
	assert.InDelta(t, 0.82, sum.Threshold, 1e-9)
}

func TestRun_SingleItemCreatesSingleton(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	e.ingest(t, "a", at(1))

	sum, err := e.orch.RunClusteringPass(context.Background(), 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.NewClusters)
	assert.Empty(t, e.unclustered(t))
	assert.Equal(t, "c001", e.clusterOf(t, "a"))

	d, err := e.orch.GetCluster(context.Background(), "c001")
	require.NoError(t, err)
	assert.Equal(t, "T:a", d.Title)
	assert.Equal(t, feedback.StatusNew, d.Status)
	assert.Equal(t, []string{"a"}, d.Members)
	assert.Equal(t, map[string]string{"severity": "low"}, d.Extra)
	e.assertConsistent(t, "a")
}

func TestRun_JoinsExistingClusterAboveThreshold(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	_, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	e.ingest(t, "b", at(0.95))
	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	assert.Equal(t, 0, sum.NewClusters)
	assert.Equal(t, 1, sum.UpdatedClusters)
	assert.Equal(t, "c001", e.clusterOf(t, "b"))
	assert.Equal(t, []string{"a", "b"}, e.members(t, "c001"))

	// The summary was regenerated from the full membership, not just b.
	d, err := e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, "T:a,b", d.Title)
	e.assertConsistent(t, "a", "b")
}

func TestRun_BelowThresholdCreatesNewCluster(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	_, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	e.ingest(t, "b", at(0.70))
	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.NewClusters)
	assert.Equal(t, 0, sum.UpdatedClusters)
	assert.NotEqual(t, e.clusterOf(t, "a"), e.clusterOf(t, "b"))
	e.assertConsistent(t, "a", "b")
}

func TestRun_AbsorbsUnclusteredNeighbours(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()

	// B and C were embedded at ingestion but never assigned.
	e.ingest(t, "A", at(1))
	e.ingest(t, "B", at(0.90))
	e.ingest(t, "C", at(0.88))
	e.preEmbed(t, "B", at(0.90))
	e.preEmbed(t, "C", at(0.88))
	require.NoError(t, e.meta.SetRemove(ctx, e.keys.Unclustered(), "B", "C"))

	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.NewClusters)
	assert.Equal(t, 2, sum.AbsorbedItems)
	cid := e.clusterOf(t, "A")
	assert.Equal(t, cid, e.clusterOf(t, "B"))
	assert.Equal(t, cid, e.clusterOf(t, "C"))
	assert.Equal(t, []string{"A", "B", "C"}, e.members(t, cid))
	e.assertConsistent(t, "A", "B", "C")
}

func TestRun_AbsorbedInEarlierBatchIsSkipped(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{BatchSize: 1})
	ctx := context.Background()

	e.ingest(t, "a", at(1))
	e.ingest(t, "b", at(0.9))
	e.preEmbed(t, "b", at(0.9))

	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed, "b is absorbed in batch 1 and skipped in batch 2")
	assert.Equal(t, 1, sum.AbsorbedItems)
	assert.Equal(t, int64(1), e.emb.calls.Load())
	assert.Equal(t, e.clusterOf(t, "a"), e.clusterOf(t, "b"))
	assert.Empty(t, e.unclustered(t))
	e.assertConsistent(t, "a", "b")
}

func TestRun_MissingItemIsDropped(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	require.NoError(t, e.meta.SetAdd(ctx, e.keys.Unclustered(), "ghost"))

	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.MissingItems)
	assert.Equal(t, 1, sum.Processed)
	assert.Empty(t, e.unclustered(t))
}

func TestRun_EmbeddingFailureLeavesItemQueued(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "ok", at(1))
	e.ingest(t, "bad", nil)

	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.EmbeddingFailures)
	assert.Equal(t, 1, sum.NewClusters)
	assert.Equal(t, []string{"bad"}, e.unclustered(t))
	e.assertConsistent(t, "ok", "bad")
}

func TestRun_IsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{BatchSize: 2})
	ctx := context.Background()
	for i, s := range []float64{1, 0.97, 0.2, 0.1, 0.93} {
		e.ingest(t, fmt.Sprintf("i%d", i), at(s))
	}

	first, err := e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)
	assert.Positive(t, first.NewClusters)
	before, err := e.orch.ListClusters(ctx)
	require.NoError(t, err)

	second, err := e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.NewClusters)
	assert.Equal(t, 0, second.UpdatedClusters)

	after, err := e.orch.ListClusters(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	e.assertConsistent(t, "i0", "i1", "i2", "i3", "i4")
}

func TestRun_CommitFailureIsFatalAndRetryConverges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	e.ingest(t, "b", at(0.99))

	e.meta.armed.Store(true)
	_, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.Error(t, err)
	assert.True(t, feedback.IsStoreError(err))
	assert.Equal(t, []string{"a", "b"}, e.unclustered(t), "nothing committed")

	e.meta.armed.Store(false)
	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Empty(t, e.unclustered(t))
	assert.Equal(t, e.clusterOf(t, "a"), e.clusterOf(t, "b"))
	assert.Equal(t, 2, sum.Processed)
	e.assertConsistent(t, "a", "b")
}

func TestRun_SummaryFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()

	e.sum.setFail(true)
	e.ingest(t, "a", at(1))
	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SummaryFailures)

	d, err := e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, "text of a", d.Title, "new cluster falls back to a headline")

	e.sum.setFail(false)
	e.ingest(t, "b", at(0.99))
	_, err = e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	d, err = e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, "T:a,b", d.Title)

	e.sum.setFail(true)
	e.ingest(t, "c", at(0.98))
	sum, err = e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SummaryFailures)
	d, err = e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, "T:a,b", d.Title, "existing cluster keeps its previous title")
	assert.Equal(t, []string{"a", "b", "c"}, d.Members)
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()

	for _, th := range []float64{0, 1, -1, 2} {
		_, err := e.orch.RunClusteringPass(ctx, th)
		assert.True(t, feedback.IsValidation(err), "threshold %v", th)
	}
	_, err := e.orch.ProcessItems(ctx, nil, 0.8)
	assert.True(t, feedback.IsValidation(err))
}

func TestProcessItems_ExplicitIDs(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	e.ingest(t, "b", at(0.1))

	sum, err := e.orch.ProcessItems(ctx, []string{"a", "a"}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, []string{"b"}, e.unclustered(t))
}

func TestProcessItems_ReprocessedSingletonMoves(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	_, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	require.Equal(t, "c001", e.clusterOf(t, "a"))

	// The item's own vector is excluded from its neighbours, so it founds
	// a new cluster and the old one is left with nobody.
	sum, err := e.orch.ProcessItems(ctx, []string{"a"}, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewClusters)
	assert.Equal(t, 1, sum.MovedItems)
	assert.Equal(t, 1, sum.RemovedClusters)

	assert.Equal(t, "c002", e.clusterOf(t, "a"))
	assert.Empty(t, e.members(t, "c001"))
	_, err = e.orch.GetCluster(ctx, "c001")
	assert.True(t, feedback.IsNotFound(err), "emptied cluster should be deleted")
	list, err := e.orch.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c002", list[0].ID)
	e.assertConsistent(t, "a")
}

func TestProcessItems_MovedItemResummarizesOldCluster(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	_, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	e.ingest(t, "b", at(0.99))
	_, err = e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, e.members(t, "c001"))

	// b is re-embedded far from a and reprocessed.
	e.emb.mu.Lock()
	e.emb.vecs["text of b"] = at(0.1)
	e.emb.mu.Unlock()
	sum, err := e.orch.ProcessItems(ctx, []string{"b"}, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewClusters)
	assert.Equal(t, 1, sum.UpdatedClusters)
	assert.Equal(t, 1, sum.MovedItems)
	assert.Equal(t, 0, sum.RemovedClusters)

	old, err := e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, old.Members)
	assert.Equal(t, "T:a", old.Title, "old cluster is summarized without b")
	assert.Equal(t, []string{"b"}, e.members(t, "c002"))
	e.assertConsistent(t, "a", "b")
}

func TestRun_StaleBacklogSnapshotConverges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{BatchSize: 2})
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, s := range []float64{1, 0.99, 0.1, 0.12, 0.98} {
		e.ingest(t, ids[i], at(s))
	}

	// Both passes start from the same backlog; the second commits after
	// the first has clustered everything.
	snapshot := e.unclustered(t)
	_, err := e.orch.ProcessItems(ctx, snapshot, 0.82)
	require.NoError(t, err)
	e.assertConsistent(t, ids...)

	_, err = e.orch.ProcessItems(ctx, snapshot, 0.82)
	require.NoError(t, err)
	assert.Empty(t, e.unclustered(t))
	e.assertConsistent(t, ids...)

	// No cluster record is left without members.
	list, err := e.orch.ListClusters(ctx)
	require.NoError(t, err)
	for _, c := range list {
		assert.NotEmpty(t, e.members(t, c.ID), "cluster %s has no members", c.ID)
	}
}

func TestRun_CommitReplansAfterConcurrentPass(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))

	// Another pass commits a into cX between this pass's plan and commit.
	e.meta.beforeNextPipeline(func() {
		require.NoError(t, e.meta.HashSet(ctx, e.keys.Cluster("cX"), map[string]string{metastore.FieldID: "cX", metastore.FieldTitle: "other"}))
		require.NoError(t, e.meta.SetAdd(ctx, e.keys.Clusters(), "cX"))
		require.NoError(t, e.meta.SetAdd(ctx, e.keys.Members("cX"), "a"))
		require.NoError(t, e.meta.HashSet(ctx, e.keys.Item("a"), map[string]string{metastore.FieldClusterID: "cX"}))
		require.NoError(t, e.meta.SetRemove(ctx, e.keys.Unclustered(), "a"))
	})

	sum, err := e.orch.RunClusteringPass(ctx, 0.82)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.MovedItems)
	assert.Equal(t, 1, sum.RemovedClusters)
	assert.Equal(t, "c001", e.clusterOf(t, "a"))
	assert.Empty(t, e.members(t, "cX"))
	e.assertConsistent(t, "a")
}

func TestRun_BacklogGaugeReadIsBounded(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{CallTimeout: 50 * time.Millisecond})
	e.ingest(t, "a", at(1))
	e.meta.stallBacklog.Store(true)

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.ProcessItems(context.Background(), []string{"a"}, 0.82)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err, "a slow backlog read must not fail the pass")
	case <-time.After(5 * time.Second):
		t.Fatal("pass blocked on the backlog gauge read")
	}
	assert.Equal(t, "c001", e.clusterOf(t, "a"))
}

func TestReset(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	e.ingest(t, "b", at(0.1))
	_, err := e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)

	rs, err := e.orch.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResetSummary{Clusters: 2, Items: 2}, rs)

	assert.Equal(t, []string{"a", "b"}, e.unclustered(t))
	clusters, err := e.orch.ListClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
	for _, id := range []string{"a", "b"} {
		ok, err := e.vectors.HasVector(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	e.assertConsistent(t, "a", "b")

	// A fresh pass re-clusters everything.
	sum, err := e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NewClusters)
}

func TestSetClusterStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	ctx := context.Background()
	e.ingest(t, "a", at(1))
	_, err := e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)

	require.NoError(t, e.orch.SetClusterStatus(ctx, "c001", feedback.StatusFixing))
	d, err := e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusFixing, d.Status)

	assert.True(t, feedback.IsNotFound(e.orch.SetClusterStatus(ctx, "nope", feedback.StatusResolved)))
	assert.True(t, feedback.IsValidation(e.orch.SetClusterStatus(ctx, "c001", "archived")))

	// A later pass that grows the cluster must not reset its status.
	e.ingest(t, "b", at(0.99))
	_, err = e.orch.RunClusteringPass(ctx, 0.8)
	require.NoError(t, err)
	d, err = e.orch.GetCluster(ctx, "c001")
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusFixing, d.Status)
}

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestBatches(t *testing.T) {
	t.Parallel()
	got := batches([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
	assert.Empty(t, batches(nil, 2))
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"b", "", "a", "b"}))
}
