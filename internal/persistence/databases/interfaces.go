// Package databases abstracts the vector store the RAG core is built on
// (C6 Vector Store Adapter). Callers never reference vendor types; every
// concrete backend (Qdrant over the wire, or an in-memory double for tests)
// satisfies VectorStore.
package databases

import "context"

// Point is a single stored record: a dense vector plus an opaque payload.
// Payload values are whatever the caller wants preserved verbatim on
// round-trip (strings, numbers, bools); unknown keys are never dropped.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Condition is one clause of a Filter. Exactly one of Match or Range should
// be set.
type Condition struct {
	Key   string
	Match any // equality match against a keyword/integer/bool field
	Range *RangeCondition
}

// RangeCondition bounds a numeric field; nil bounds are unbounded on that side.
type RangeCondition struct {
	Gte *float64
	Lte *float64
}

// Filter is a conjunction (AND) of Conditions. A zero-value Filter matches
// every point.
type Filter struct {
	Must []Condition
}

// Eq builds an equality condition.
func Eq(key string, value any) Condition {
	return Condition{Key: key, Match: value}
}

// SeqRange builds a sequence_index-style inclusive range condition.
func SeqRange(key string, gte, lte int) Condition {
	g, l := float64(gte), float64(lte)
	return Condition{Key: key, Range: &RangeCondition{Gte: &g, Lte: &l}}
}

// SearchHit is one scored result from Search, sorted by Score descending.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// StoreStats reports coarse collection-level counters (C6 stats()).
type StoreStats struct {
	PointsCount   uint64
	VectorsCount  uint64
	SegmentsCount uint64
}

// PayloadIndexes maps payload field name to Qdrant index kind: "keyword" or
// "integer", per spec.md §4.6's ensure_payload_indexes contract.
type PayloadIndexes map[string]string

// VectorStore is the full C6 contract: collection lifecycle, batched
// upsert with retry, filtered delete, vector search, ordered bulk retrieve,
// payload-only scroll, and stats. Every operation is safe to call
// concurrently from multiple ingest workers against the same collection.
type VectorStore interface {
	// EnsureCollection creates the named collection with the given
	// dimension and distance metric if it does not already exist. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dimension int, metric string) error

	// EnsurePayloadIndexes creates the requested payload indexes if absent.
	EnsurePayloadIndexes(ctx context.Context, collection string, indexes PayloadIndexes) error

	// Upsert writes points in batches, retrying transient failures per
	// batch with exponential backoff. At-least-once: point ids are
	// idempotent, so a retried batch is safe to repeat.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Search returns up to limit nearest neighbors to vector matching
	// filter, sorted by score descending.
	Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int) ([]SearchHit, error)

	// Retrieve fetches points by id, preserving the order of ids. Missing
	// ids are simply omitted from the result.
	Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error)

	// Scroll returns payloads (no vectors) matching filter, up to limit.
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]map[string]any, error)

	// Stats reports collection-level counters.
	Stats(ctx context.Context, collection string) (StoreStats, error)

	Close() error
}
