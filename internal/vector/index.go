// Package vector defines the raw nearest-neighbour index used by the
// clustering core and its concrete backends: a remote Qdrant collection and
// an embedded BoltDB file for single-host deployments and tests.
// Domain semantics (cluster assignment, exclusion sets, thresholds) live in
// package vectorstore; this package only stores and searches points.
package vector

import (
	"context"
)

// Point is one stored entry: an item's vector plus a flat string payload.
type Point struct {
	// ID is the caller's identifier for the point (the item ID).
	ID string
	// Vector is the embedding.
	Vector []float32
	// Payload holds string metadata. An absent key means "unset".
	Payload map[string]string
}

// Match is a single similarity search hit.
type Match struct {
	// ID is the caller's identifier for the point.
	ID string
	// Score is the similarity to the query vector; higher is more similar.
	Score float32
	// Payload is the stored metadata of the point.
	Payload map[string]string
}

// Filter restricts a query or scroll to points whose payload Field equals Value.
// A nil *Filter matches every point.
type Filter struct {
	Field string
	Value string
}

// matches reports whether payload satisfies f.
func (f *Filter) matches(payload map[string]string) bool {
	if f == nil {
		return true
	}
	return payload[f.Field] == f.Value
}

// Index is a similarity-search store keyed by point ID.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Upsert inserts or overwrites the given points.
	Upsert(ctx context.Context, points []Point) error

	// Get returns the stored points for ids, vectors included. IDs with no
	// stored point are absent from the result.
	Get(ctx context.Context, ids []string) ([]Point, error)

	// Query returns up to limit points nearest to vec, sorted by descending
	// score, optionally restricted by filter.
	Query(ctx context.Context, vec []float32, limit int, filter *Filter) ([]Match, error)

	// Scroll returns every point matching filter. Vectors are not populated.
	Scroll(ctx context.Context, filter *Filter) ([]Point, error)

	// Delete removes points by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Name identifies the backend in errors and readiness responses.
	Name() string

	// Close releases any resources held by the index.
	Close() error
}
