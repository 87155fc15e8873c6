package databases

import (
	"context"
	"testing"
)

func TestMemoryVectorUpsertSearchRetrieve(t *testing.T) {
	store := NewMemoryVector()
	ctx := context.Background()

	if err := store.EnsureCollection(ctx, "books", 3, "cosine"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := store.EnsurePayloadIndexes(ctx, "books", PayloadIndexes{"source": "keyword"}); err != nil {
		t.Fatalf("EnsurePayloadIndexes: %v", err)
	}

	points := []Point{
		{ID: "p1", Vector: []float32{1, 0, 0}, Payload: map[string]any{"source": "a", "sequence_index": 0}},
		{ID: "p2", Vector: []float32{0, 1, 0}, Payload: map[string]any{"source": "a", "sequence_index": 1}},
		{ID: "p3", Vector: []float32{0, 0, 1}, Payload: map[string]any{"source": "b", "sequence_index": 0}},
	}
	if err := store.Upsert(ctx, "books", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := store.Search(ctx, "books", []float32{1, 0, 0}, Filter{}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "p1" {
		t.Fatalf("expected p1 to score highest, got %s (score %v)", hits[0].ID, hits[0].Score)
	}

	filtered, err := store.Search(ctx, "books", []float32{1, 0, 0}, Filter{Must: []Condition{Eq("source", "b")}}, 10)
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "p3" {
		t.Fatalf("expected only p3 to match source=b, got %#v", filtered)
	}

	retrieved, err := store.Retrieve(ctx, "books", []string{"p2", "missing", "p1"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(retrieved) != 2 {
		t.Fatalf("expected 2 retrieved points (missing id dropped), got %d", len(retrieved))
	}
	if retrieved[0].ID != "p2" || retrieved[1].ID != "p1" {
		t.Fatalf("expected retrieve to preserve requested order, got %#v", retrieved)
	}

	stats, err := store.Stats(ctx, "books")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PointsCount != 3 {
		t.Fatalf("expected 3 points, got %d", stats.PointsCount)
	}
}

func TestMemoryVectorRangeFilterAndDelete(t *testing.T) {
	store := NewMemoryVector()
	ctx := context.Background()
	_ = store.EnsureCollection(ctx, "books", 2, "cosine")

	points := []Point{
		{ID: "c0", Vector: []float32{1, 0}, Payload: map[string]any{"parent_id": "par1", "sequence_index": 0}},
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]any{"parent_id": "par1", "sequence_index": 1}},
		{ID: "c2", Vector: []float32{1, 0}, Payload: map[string]any{"parent_id": "par1", "sequence_index": 2}},
	}
	if err := store.Upsert(ctx, "books", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	scrolled, err := store.Scroll(ctx, "books", Filter{Must: []Condition{
		Eq("parent_id", "par1"),
		SeqRange("sequence_index", 1, 2),
	}}, 10)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(scrolled) != 2 {
		t.Fatalf("expected sequence_index range [1,2] to match 2 points, got %d", len(scrolled))
	}

	if err := store.DeleteByFilter(ctx, "books", Filter{Must: []Condition{Eq("parent_id", "par1")}}); err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	stats, err := store.Stats(ctx, "books")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PointsCount != 0 {
		t.Fatalf("expected all points deleted, got %d remaining", stats.PointsCount)
	}
}

func TestMemoryVectorUpsertOverwritesExisting(t *testing.T) {
	store := NewMemoryVector()
	ctx := context.Background()
	_ = store.EnsureCollection(ctx, "books", 1, "cosine")

	if err := store.Upsert(ctx, "books", []Point{{ID: "p1", Vector: []float32{1}, Payload: map[string]any{"v": 1}}}); err != nil {
		t.Fatalf("Upsert initial: %v", err)
	}
	if err := store.Upsert(ctx, "books", []Point{{ID: "p1", Vector: []float32{1}, Payload: map[string]any{"v": 2}}}); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}

	retrieved, err := store.Retrieve(ctx, "books", []string{"p1"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(retrieved) != 1 || retrieved[0].Payload["v"] != 2 {
		t.Fatalf("expected overwritten payload v=2, got %#v", retrieved)
	}

	stats, err := store.Stats(ctx, "books")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PointsCount != 1 {
		t.Fatalf("expected upsert of existing id not to duplicate, got %d points", stats.PointsCount)
	}
}
