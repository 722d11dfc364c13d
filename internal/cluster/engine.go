// Package cluster implements the online assignment policy: given one item and
// its embedding, join the best existing cluster, found a new cluster that
// absorbs unclustered near-duplicates, or start a singleton.
package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/vectorstore"
)

// DefaultTopK is the number of neighbours inspected per decision.
const DefaultTopK = 10

// VectorStore is the subset of *vectorstore.Adapter the engine needs.
type VectorStore interface {
	FindSimilar(ctx context.Context, vec []float32, topK int, minScore float64, excludeIDs ...string) ([]vectorstore.Result, error)
	Upsert(ctx context.Context, itemID string, vec []float32, md vectorstore.Metadata) error
	UpdateClusterAssignmentBatch(ctx context.Context, assignments []vectorstore.Assignment) error
}

// Assignment is the outcome of one decision. IsNewCluster discriminates the
// two shapes: when false the item joined ClusterID at Similarity; when true
// ClusterID was just generated and GroupedItemIDs lists any absorbed
// founding members (empty for a singleton).
type Assignment struct {
	// ItemID is the item that was assigned.
	ItemID string
	// ClusterID is the cluster the item now belongs to.
	ClusterID string
	// IsNewCluster reports whether ClusterID was created by this decision.
	IsNewCluster bool
	// Similarity is the score of the deciding neighbour (0 for a singleton).
	Similarity float64
	// GroupedItemIDs are previously unclustered neighbours absorbed into
	// the new cluster, in descending score order.
	GroupedItemIDs []string
}

// Engine makes assignment decisions. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	// store is the vector store adapter queried and written per decision.
	store VectorStore
	// topK bounds the neighbour query.
	topK int
	// newID generates cluster IDs.
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK overrides DefaultTopK.
func WithTopK(k int) Option {
	return func(e *Engine) { e.topK = k }
}

// WithIDGenerator overrides the UUID cluster ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New constructs an Engine over store.
func New(store VectorStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("cluster: vector store must not be nil")
	}
	e := &Engine{store: store, topK: DefaultTopK, newID: uuid.NewString}
	for _, o := range opts {
		o(e)
	}
	if e.topK <= 0 {
		return nil, &feedback.ValidationError{Field: "top_k", Reason: fmt.Sprintf("%d must be positive", e.topK)}
	}
	if e.newID == nil {
		return nil, fmt.Errorf("cluster: ID generator must not be nil")
	}
	return e, nil
}

// Assign decides the cluster for item and persists the decision to the
// vector index: absorbed neighbours have their cluster ID rewritten first,
// then the item's own vector is upserted carrying its cluster ID. A failed
// absorption leaves the item's vector untouched, and a failed upsert
// returns the absorbed neighbours to unclustered, so no cluster exists in
// the index without the item that founded it. Store and validation errors
// are returned unchanged for the caller to count.
func (e *Engine) Assign(ctx context.Context, item feedback.Item, vec []float32, threshold float64) (*Assignment, error) {
	if err := feedback.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, &feedback.ValidationError{Field: "item_id", Reason: "must not be empty"}
	}
	if len(vec) == 0 {
		return nil, &feedback.ValidationError{Field: "vector", Reason: "must not be empty"}
	}

	neighbours, err := e.store.FindSimilar(ctx, vec, e.topK, 0, item.ID)
	if err != nil {
		return nil, err
	}

	a := e.decide(item.ID, neighbours, threshold)

	if len(a.GroupedItemIDs) > 0 {
		if err := e.store.UpdateClusterAssignmentBatch(ctx, a.moves(a.ClusterID)); err != nil {
			return nil, err
		}
	}

	md := vectorstore.Metadata{ClusterID: a.ClusterID, Source: item.Source, CreatedAt: item.CreatedAt}
	if err := e.store.Upsert(ctx, item.ID, vec, md); err != nil {
		if len(a.GroupedItemIDs) > 0 {
			if rerr := e.store.UpdateClusterAssignmentBatch(ctx, a.moves("")); rerr != nil {
				return nil, errors.Join(err, fmt.Errorf("cluster: release absorbed neighbours: %w", rerr))
			}
		}
		return nil, err
	}
	return a, nil
}

// moves tags every absorbed neighbour with clusterID; "" clears the tag.
func (a *Assignment) moves(clusterID string) []vectorstore.Assignment {
	out := make([]vectorstore.Assignment, 0, len(a.GroupedItemIDs))
	for _, id := range a.GroupedItemIDs {
		out = append(out, vectorstore.Assignment{ItemID: id, ClusterID: clusterID})
	}
	return out
}

// decide applies the policy to neighbours, which arrive sorted by
// descending score. A clustered neighbour at or above threshold wins; the
// first one returned wins ties. Otherwise every unclustered neighbour at or
// above threshold is absorbed in one step, without re-querying from the
// absorbed items.
func (e *Engine) decide(itemID string, neighbours []vectorstore.Result, threshold float64) *Assignment {
	var (
		bestClustered *vectorstore.Result
		absorbed      []string
		absorbedTop   float64
	)
	for i := range neighbours {
		n := &neighbours[i]
		if n.Metadata.Clustered() {
			if bestClustered == nil {
				bestClustered = n
			}
			continue
		}
		if n.Score >= threshold {
			if len(absorbed) == 0 {
				absorbedTop = n.Score
			}
			absorbed = append(absorbed, n.ID)
		}
	}

	if bestClustered != nil && bestClustered.Score >= threshold {
		return &Assignment{
			ItemID:     itemID,
			ClusterID:  bestClustered.Metadata.ClusterID,
			Similarity: bestClustered.Score,
		}
	}
	if len(absorbed) > 0 {
		return &Assignment{
			ItemID:         itemID,
			ClusterID:      e.newID(),
			IsNewCluster:   true,
			Similarity:     absorbedTop,
			GroupedItemIDs: absorbed,
		}
	}
	return &Assignment{ItemID: itemID, ClusterID: e.newID(), IsNewCluster: true}
}
