package vector

import (
	"context"
	"path/filepath"
	"testing"
)

// openTestIndex opens a BoltIndex in a per-test temporary directory.
func openTestIndex(t *testing.T) *BoltIndex {
	t.Helper()
	idx, err := OpenBoltIndex(filepath.Join(t.TempDir(), "vectors.db"), 0)
	if err != nil {
		t.Fatalf("open bolt index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func Test_BoltIndex_QueryOrdersByScore(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Point{
		{ID: "far", Vector: []float32{0, 1}},
		{ID: "near", Vector: []float32{1, 0.1}},
		{ID: "exact", Vector: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("want 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "near" {
		t.Errorf("unexpected order: %s, %s", matches[0].ID, matches[1].ID)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("exact match score = %v, want ~1", matches[0].Score)
	}
}

func Test_BoltIndex_FilterAndScroll(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]string{"cluster_id": "c1"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]string{"cluster_id": "c2"}},
		{ID: "c", Vector: []float32{0, 1}, Payload: map[string]string{"cluster_id": "c1"}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0}, 10, &Filter{Field: "cluster_id", Value: "c1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "a" {
		t.Errorf("filtered query: got %+v", matches)
	}

	points, err := idx.Scroll(ctx, &Filter{Field: "cluster_id", Value: "c1"})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if len(points) != 2 || points[0].ID != "a" || points[1].ID != "c" {
		t.Errorf("scroll: got %+v", points)
	}
}

func Test_BoltIndex_TiesBreakByID(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Point{
		{ID: "z", Vector: []float32{1, 0}},
		{ID: "m", Vector: []float32{1, 0}},
		{ID: "a", Vector: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for range 5 {
		matches, err := idx.Query(ctx, []float32{1, 0}, 3, nil)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if matches[0].ID != "a" || matches[1].ID != "m" || matches[2].ID != "z" {
			t.Fatalf("tie order not deterministic: %s %s %s", matches[0].ID, matches[1].ID, matches[2].ID)
		}
	}
}

func Test_BoltIndex_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	idx, err := OpenBoltIndex(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{0.5, 0.5}, Payload: map[string]string{"k": "v"}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenBoltIndex(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	got, err := idx.Get(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Payload["k"] != "v" || len(got[0].Vector) != 2 {
		t.Errorf("reopened point: got %+v", got)
	}
}

func Test_BoltIndex_DimensionMismatchAndDelete(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert(ctx, []Point{{ID: "b", Vector: []float32{1, 0, 0}}}); err == nil {
		t.Error("expected dimension mismatch error")
	}

	if err := idx.Delete(ctx, []string{"a", "unknown"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := idx.Get(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want no points after delete, got %d", len(got))
	}
}
