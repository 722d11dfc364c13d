package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"
)

// bucketPoints is the BoltDB bucket holding JSON-encoded points keyed by ID.
var bucketPoints = []byte("points")

// storedPoint is the on-disk representation of a Point.
type storedPoint struct {
	Vector  []float32         `json:"v"`
	Payload map[string]string `json:"p,omitempty"`
}

// BoltIndex implements Index on a local BoltDB file. All points are mirrored
// in memory and searched by brute-force cosine similarity, which is adequate
// for the backlog sizes a single host clusters.
type BoltIndex struct {
	// db is the underlying BoltDB handle.
	db *bbolt.DB
	// mu guards points.
	mu sync.RWMutex
	// points is the in-memory mirror of the bucket.
	points map[string]storedPoint
	// dimension is the expected vector length; 0 until the first upsert.
	dimension int
}

// OpenBoltIndex opens (or creates) a BoltIndex at path and loads every stored
// point into memory. dimension may be 0 to accept the first upserted length.
func OpenBoltIndex(path string, dimension int) (*BoltIndex, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPoints)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	idx := &BoltIndex{db: db, points: make(map[string]storedPoint), dimension: dimension}
	if err := idx.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// load mirrors the bucket into memory. Corrupt entries are skipped.
func (b *BoltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPoints).ForEach(func(k, v []byte) error {
			var sp storedPoint
			if err := json.Unmarshal(v, &sp); err != nil {
				return nil
			}
			if b.dimension == 0 {
				b.dimension = len(sp.Vector)
			}
			b.points[string(k)] = sp
			return nil
		})
	})
}

// Name returns "bolt".
func (b *BoltIndex) Name() string { return "bolt" }

// Upsert writes points in a single BoltDB transaction and updates the
// in-memory mirror once the transaction commits.
func (b *BoltIndex) Upsert(_ context.Context, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[string]storedPoint, len(points))
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPoints)
		for _, p := range points {
			if b.dimension == 0 {
				b.dimension = len(p.Vector)
			}
			if len(p.Vector) != b.dimension {
				return fmt.Errorf("vector dimension mismatch for %q: expected %d, got %d", p.ID, b.dimension, len(p.Vector))
			}
			sp := storedPoint{Vector: p.Vector, Payload: copyPayload(p.Payload)}
			data, err := json.Marshal(sp)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(p.ID), data); err != nil {
				return err
			}
			staged[p.ID] = sp
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: upsert: %w", err)
	}

	for id, sp := range staged {
		b.points[id] = sp
	}
	return nil
}

// Get returns the stored points for ids. Unknown IDs are skipped.
func (b *BoltIndex) Get(_ context.Context, ids []string) ([]Point, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		sp, ok := b.points[id]
		if !ok {
			continue
		}
		out = append(out, Point{
			ID:      id,
			Vector:  append([]float32(nil), sp.Vector...),
			Payload: copyPayload(sp.Payload),
		})
	}
	return out, nil
}

// Query scores every point against vec and returns the top limit matches.
// Equal scores are ordered by ID so results are deterministic.
func (b *BoltIndex) Query(_ context.Context, vec []float32, limit int, filter *Filter) ([]Match, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.dimension != 0 && len(vec) != b.dimension {
		return nil, fmt.Errorf("bolt: query dimension mismatch: expected %d, got %d", b.dimension, len(vec))
	}

	matches := make([]Match, 0, len(b.points))
	for id, sp := range b.points {
		if !filter.matches(sp.Payload) {
			continue
		}
		matches = append(matches, Match{
			ID:      id,
			Score:   cosineSimilarity(vec, sp.Vector),
			Payload: copyPayload(sp.Payload),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Scroll returns every point whose payload satisfies filter, ordered by ID.
func (b *BoltIndex) Scroll(_ context.Context, filter *Filter) ([]Point, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Point
	for id, sp := range b.points {
		if filter.matches(sp.Payload) {
			out = append(out, Point{ID: id, Payload: copyPayload(sp.Payload)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes points by ID.
func (b *BoltIndex) Delete(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPoints)
		for _, id := range ids {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: delete: %w", err)
	}

	for _, id := range ids {
		delete(b.points, id)
	}
	return nil
}

// Ping always succeeds for an open embedded index.
func (b *BoltIndex) Ping(_ context.Context) error { return nil }

// Close closes the BoltDB file.
func (b *BoltIndex) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("bolt: close: %w", err)
	}
	return nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero magnitude or the lengths differ.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// copyPayload returns a shallow copy of p so callers cannot mutate stored state.
func copyPayload(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
