// Package vectorstore adapts a raw vector.Index into the domain operations the
// clustering core needs: storing item embeddings with their cluster
// assignment, threshold-filtered similarity queries with exclusion sets,
// cluster-scoped queries, and read-modify-write assignment updates.
// Every backend failure is returned as a *feedback.StoreError.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/vector"
)

// Payload field names persisted alongside each vector.
const (
	// FieldClusterID holds the item's cluster ID. Absent or empty means unclustered.
	FieldClusterID = "cluster_id"
	// FieldSource holds the item's ingestion source.
	FieldSource = "source"
	// FieldCreatedAt holds the item's creation time in RFC 3339.
	FieldCreatedAt = "created_at"
)

// Metadata is the domain view of a vector's payload.
type Metadata struct {
	// ClusterID is the assigned cluster, or "" when the item is unclustered.
	ClusterID string
	// Source is the ingestion channel of the item.
	Source feedback.Source
	// CreatedAt is the item's creation time.
	CreatedAt time.Time
}

// Clustered reports whether the metadata carries a cluster assignment.
func (m Metadata) Clustered() bool { return m.ClusterID != "" }

// Entry is one item embedding to upsert.
type Entry struct {
	ItemID   string
	Vector   []float32
	Metadata Metadata
}

// Result is one similarity search hit.
type Result struct {
	// ID is the neighbouring item's ID.
	ID string
	// Score is the similarity to the query vector; higher is more similar.
	Score float64
	// Metadata is the neighbour's stored metadata.
	Metadata Metadata
}

// Assignment pairs an item with the cluster it should belong to.
type Assignment struct {
	ItemID    string
	ClusterID string
}

// Adapter implements the domain vector operations on top of a vector.Index.
// It is safe for concurrent use when the underlying index is.
type Adapter struct {
	// index is the raw similarity-search backend.
	index vector.Index
}

// New constructs an Adapter over index.
func New(index vector.Index) (*Adapter, error) {
	if index == nil {
		return nil, fmt.Errorf("vectorstore: index must not be nil")
	}
	return &Adapter{index: index}, nil
}

// Upsert inserts or overwrites the vector and metadata for itemID.
func (a *Adapter) Upsert(ctx context.Context, itemID string, vec []float32, md Metadata) error {
	return a.UpsertBatch(ctx, []Entry{{ItemID: itemID, Vector: vec, Metadata: md}})
}

// UpsertBatch writes all entries in one round trip. Points are keyed by item
// ID, so repeating a batch converges to the same state.
func (a *Adapter) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]vector.Point, 0, len(entries))
	for _, e := range entries {
		points = append(points, vector.Point{
			ID:      e.ItemID,
			Vector:  e.Vector,
			Payload: encodeMetadata(e.Metadata),
		})
	}
	if err := a.index.Upsert(ctx, points); err != nil {
		return a.storeErr("upsert", err)
	}
	return nil
}

// FindSimilar returns up to topK neighbours of vec sorted by descending
// score, keeping only those with score >= minScore and dropping any ID in
// excludeIDs. Exclusion is applied after retrieval; the query over-fetches
// by len(excludeIDs) so excluded hits do not shrink the result.
func (a *Adapter) FindSimilar(ctx context.Context, vec []float32, topK int, minScore float64, excludeIDs ...string) ([]Result, error) {
	return a.query(ctx, vec, topK, minScore, nil, excludeIDs)
}

// FindSimilarInCluster is FindSimilar restricted to members of clusterID.
func (a *Adapter) FindSimilarInCluster(ctx context.Context, vec []float32, clusterID string, topK int) ([]Result, error) {
	if clusterID == "" {
		return nil, &feedback.ValidationError{Field: "cluster_id", Reason: "must not be empty"}
	}
	return a.query(ctx, vec, topK, 0, &vector.Filter{Field: FieldClusterID, Value: clusterID}, nil)
}

// query runs the similarity search and applies the post-filters.
func (a *Adapter) query(ctx context.Context, vec []float32, topK int, minScore float64, filter *vector.Filter, excludeIDs []string) ([]Result, error) {
	if topK <= 0 {
		return nil, &feedback.ValidationError{Field: "top_k", Reason: fmt.Sprintf("%d must be positive", topK)}
	}

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}

	matches, err := a.index.Query(ctx, vec, topK+len(exclude), filter)
	if err != nil {
		return nil, a.storeErr("query", err)
	}

	results := make([]Result, 0, topK)
	for _, m := range matches {
		if _, skip := exclude[m.ID]; skip {
			continue
		}
		score := float64(m.Score)
		if score < minScore {
			continue
		}
		md := decodeMetadata(m.Payload)
		if filter != nil && md.ClusterID != filter.Value {
			continue
		}
		results = append(results, Result{ID: m.ID, Score: score, Metadata: md})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// UpdateClusterAssignment sets the cluster of an already-stored item.
func (a *Adapter) UpdateClusterAssignment(ctx context.Context, itemID, clusterID string) error {
	return a.UpdateClusterAssignmentBatch(ctx, []Assignment{{ItemID: itemID, ClusterID: clusterID}})
}

// UpdateClusterAssignmentBatch rewrites the cluster ID of each stored item.
// The index cannot patch metadata in place, so each vector is fetched and
// resubmitted. If any item has no stored vector a *feedback.NotFoundError is
// returned and nothing is written.
func (a *Adapter) UpdateClusterAssignmentBatch(ctx context.Context, assignments []Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	ids := make([]string, 0, len(assignments))
	for _, as := range assignments {
		ids = append(ids, as.ItemID)
	}

	points, err := a.index.Get(ctx, ids)
	if err != nil {
		return a.storeErr("get", err)
	}
	byID := make(map[string]vector.Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	updated := make([]vector.Point, 0, len(assignments))
	for _, as := range assignments {
		p, ok := byID[as.ItemID]
		if !ok || len(p.Vector) == 0 {
			return &feedback.NotFoundError{Kind: "vector", ID: as.ItemID}
		}
		payload := make(map[string]string, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		if as.ClusterID == "" {
			delete(payload, FieldClusterID)
		} else {
			payload[FieldClusterID] = as.ClusterID
		}
		updated = append(updated, vector.Point{ID: p.ID, Vector: p.Vector, Payload: payload})
	}

	if err := a.index.Upsert(ctx, updated); err != nil {
		return a.storeErr("upsert", err)
	}
	return nil
}

// GetClusterMembers returns the IDs of every item whose stored cluster is clusterID.
func (a *Adapter) GetClusterMembers(ctx context.Context, clusterID string) ([]string, error) {
	points, err := a.index.Scroll(ctx, &vector.Filter{Field: FieldClusterID, Value: clusterID})
	if err != nil {
		return nil, a.storeErr("scroll", err)
	}
	ids := make([]string, 0, len(points))
	for _, p := range points {
		if p.Payload[FieldClusterID] == clusterID {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// HasVector reports whether itemID has a stored embedding.
func (a *Adapter) HasVector(ctx context.Context, itemID string) (bool, error) {
	points, err := a.index.Get(ctx, []string{itemID})
	if err != nil {
		return false, a.storeErr("get", err)
	}
	return len(points) > 0, nil
}

// Delete removes the vector for itemID.
func (a *Adapter) Delete(ctx context.Context, itemID string) error {
	return a.DeleteBatch(ctx, []string{itemID})
}

// DeleteBatch removes the vectors for itemIDs.
func (a *Adapter) DeleteBatch(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if err := a.index.Delete(ctx, itemIDs); err != nil {
		return a.storeErr("delete", err)
	}
	return nil
}

// storeErr wraps err as a StoreError attributed to the backing index.
func (a *Adapter) storeErr(op string, err error) error {
	return &feedback.StoreError{Store: a.index.Name(), Op: op, Err: err}
}

// encodeMetadata flattens md into a string payload. An empty cluster ID is
// omitted so the point reads back as unclustered.
func encodeMetadata(md Metadata) map[string]string {
	payload := make(map[string]string, 3)
	if md.ClusterID != "" {
		payload[FieldClusterID] = md.ClusterID
	}
	if md.Source != "" {
		payload[FieldSource] = string(md.Source)
	}
	if !md.CreatedAt.IsZero() {
		payload[FieldCreatedAt] = md.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// decodeMetadata parses a string payload back into Metadata.
func decodeMetadata(payload map[string]string) Metadata {
	md := Metadata{
		ClusterID: payload[FieldClusterID],
		Source:    feedback.Source(payload[FieldSource]),
	}
	if ts, ok := payload[FieldCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			md.CreatedAt = t
		}
	}
	return md
}
