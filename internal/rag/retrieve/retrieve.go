// Package retrieve implements the Retrieval Engine (C9): embed a query,
// search matched children, optionally enrich with parents and siblings,
// and assemble a token-budgeted context string.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"alexandria/internal/observability"
	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/model"
)

// ContextMode selects how much surrounding context enriches matched children.
type ContextMode string

const (
	ModePrecise      ContextMode = "precise"
	ModeContextual   ContextMode = "contextual"
	ModeComprehensive ContextMode = "comprehensive"
)

// Options configures one Retrieve call; zero values take spec.md §4.9 defaults.
type Options struct {
	Limit            int
	DomainFilter     string
	LanguageFilter   string
	Threshold        float64
	ContextMode      ContextMode
	SiblingWindow    int
	MaxContextTokens int
	FetchMultiplier  int
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.Threshold == 0 {
		o.Threshold = 0.3
	}
	if o.ContextMode == "" {
		o.ContextMode = ModeContextual
	}
	if o.SiblingWindow <= 0 {
		o.SiblingWindow = 2
	}
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = 12000
	}
	if o.FetchMultiplier <= 0 {
		o.FetchMultiplier = 3
	}
	return o
}

// ChildHit is one matched child chunk.
type ChildHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Stats reports per-stage timings and degradation flags.
type Stats struct {
	ParentsFetched  int
	SiblingsFetched int
	FallbackUsed    bool
	ChildSearchMs   int64
	ParentFetchMs   int64
	SiblingFetchMs  int64
	TotalMs         int64
}

// Result is the C9 output contract.
type Result struct {
	Query              string
	Children           []ChildHit
	Parents            map[string]map[string]any
	Siblings           map[string][]map[string]any
	AssembledContext   string
	TotalContextTokens int
	Stats              Stats
}

// Engine is the C9 handle: bound to a store and an embedder, stateless
// across calls (spec.md §5: "retrieval is single-threaded per request; many
// requests may run concurrently").
type Engine struct {
	store databases.VectorStore
	emb   embedder.Embedder
}

// New constructs a retrieval Engine.
func New(store databases.VectorStore, emb embedder.Embedder) *Engine {
	return &Engine{store: store, emb: emb}
}

// Retrieve runs the full C9 algorithm against collection.
func (e *Engine) Retrieve(ctx context.Context, query, collection string, opts Options) (Result, error) {
	opts = opts.withDefaults()
	result := Result{Query: query, Parents: map[string]map[string]any{}, Siblings: map[string][]map[string]any{}}

	if query == "" {
		return result, nil
	}

	start := time.Now()
	if _, err := e.store.Stats(ctx, collection); err != nil {
		return Result{}, newErr(UnknownCollection, fmt.Sprintf("collection %q: %v", collection, err))
	}

	vecs, err := e.emb.EmbedBatch(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		msg := "embedder returned no vector"
		if err != nil {
			msg = err.Error()
		}
		return Result{}, newErr(EmbeddingUnavailable, msg)
	}
	queryVector := vecs[0]

	childSearchStart := time.Now()
	searchCtx, endSearchSpan := observability.StartSpan(ctx, "alexandria/retrieve", "child_search", map[string]any{"collection": collection, "mode": string(opts.ContextMode)})
	filter := databases.Filter{Must: []databases.Condition{databases.Eq("chunk_level", string(model.LevelChild))}}
	if opts.DomainFilter != "" {
		filter.Must = append(filter.Must, databases.Eq("domain", opts.DomainFilter))
	}
	if opts.LanguageFilter != "" {
		filter.Must = append(filter.Must, databases.Eq("language", opts.LanguageFilter))
	}
	hits, err := e.store.Search(searchCtx, collection, queryVector, filter, opts.Limit*opts.FetchMultiplier)
	endSearchSpan(err)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: child search: %w", err)
	}
	result.Stats.ChildSearchMs = time.Since(childSearchStart).Milliseconds()

	matched := filterAndRank(hits, opts.Threshold, opts.Limit)
	result.Children = matched

	if opts.ContextMode == ModePrecise {
		result.Stats.TotalMs = time.Since(start).Milliseconds()
		result.AssembledContext, result.TotalContextTokens = assemble(matched, nil, nil, opts.MaxContextTokens)
		return result, nil
	}

	parentFetchStart := time.Now()
	parentCtx, endParentSpan := observability.StartSpan(ctx, "alexandria/retrieve", "parent_fetch", map[string]any{"collection": collection, "matched": len(matched)})
	parents, fallback := e.fetchParents(parentCtx, collection, matched)
	endParentSpan(nil)
	result.Stats.ParentFetchMs = time.Since(parentFetchStart).Milliseconds()
	result.Stats.ParentsFetched = len(parents)
	result.Stats.FallbackUsed = fallback
	result.Parents = parents

	var siblings map[string][]map[string]any
	if opts.ContextMode == ModeComprehensive {
		siblingFetchStart := time.Now()
		siblingCtx, endSiblingSpan := observability.StartSpan(ctx, "alexandria/retrieve", "sibling_fetch", map[string]any{"collection": collection, "matched": len(matched)})
		var siblingsFetched int
		siblings, siblingsFetched = e.fetchSiblings(siblingCtx, collection, matched, opts.SiblingWindow)
		endSiblingSpan(nil)
		result.Stats.SiblingFetchMs = time.Since(siblingFetchStart).Milliseconds()
		result.Stats.SiblingsFetched = siblingsFetched
		result.Siblings = siblings
	}

	result.AssembledContext, result.TotalContextTokens = assemble(matched, parents, siblings, opts.MaxContextTokens)
	result.Stats.TotalMs = time.Since(start).Milliseconds()
	return result, nil
}

// filterAndRank drops hits below threshold, then re-sorts by score
// descending with a (source, source_id, sequence_index) ascending
// tie-break, and truncates to limit.
func filterAndRank(hits []databases.SearchHit, threshold float64, limit int) []ChildHit {
	kept := make([]ChildHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		kept = append(kept, ChildHit{ID: h.ID, Score: h.Score, Payload: h.Payload})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return tieBreakKey(kept[i].Payload) < tieBreakKey(kept[j].Payload)
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func tieBreakKey(payload map[string]any) string {
	source, _ := payload["source"].(string)
	sourceID, _ := payload["source_id"].(string)
	seq := payloadInt(payload, "sequence_index")
	return fmt.Sprintf("%s\x00%s\x00%08d", source, sourceID, seq)
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// fetchParents retrieves the distinct parents referenced by matched
// children. Children missing a parent_id, or whose parent no longer
// exists in the store, set fallback=true but never error.
func (e *Engine) fetchParents(ctx context.Context, collection string, matched []ChildHit) (map[string]map[string]any, bool) {
	seen := map[string]bool{}
	var ids []string
	fallback := false
	for _, c := range matched {
		pid, _ := c.Payload["parent_id"].(string)
		if pid == "" {
			fallback = true
			continue
		}
		if !seen[pid] {
			seen[pid] = true
			ids = append(ids, pid)
		}
	}
	if len(ids) == 0 {
		return map[string]map[string]any{}, fallback
	}

	points, err := e.store.Retrieve(ctx, collection, ids)
	if err != nil {
		return map[string]map[string]any{}, true
	}
	parents := make(map[string]map[string]any, len(points))
	for _, p := range points {
		parents[p.ID] = p.Payload
	}
	if len(parents) < len(ids) {
		fallback = true
	}
	return parents, fallback
}

// fetchSiblings expands the sibling neighborhood of the top-K matched
// children (K = min(3, len(matched))), excluding the matched chunk itself,
// sorted by sequence_index ascending.
func (e *Engine) fetchSiblings(ctx context.Context, collection string, matched []ChildHit, window int) (map[string][]map[string]any, int) {
	k := len(matched)
	if k > 3 {
		k = 3
	}
	siblings := map[string][]map[string]any{}
	total := 0
	for _, c := range matched[:k] {
		pid, _ := c.Payload["parent_id"].(string)
		if pid == "" {
			continue
		}
		seq := payloadInt(c.Payload, "sequence_index")
		siblingCount := payloadInt(c.Payload, "sibling_count")
		lo := seq - window
		if lo < 0 {
			lo = 0
		}
		hi := seq + window
		if siblingCount > 0 && hi > siblingCount-1 {
			hi = siblingCount - 1
		}
		filter := databases.Filter{Must: []databases.Condition{
			databases.Eq("parent_id", pid),
			databases.SeqRange("sequence_index", lo, hi),
		}}
		payloads, err := e.store.Scroll(ctx, collection, filter, 2*window+1)
		if err != nil {
			continue
		}
		var ordered []map[string]any
		for _, p := range payloads {
			if idOf(p) == c.ID {
				continue
			}
			ordered = append(ordered, p)
		}
		sort.SliceStable(ordered, func(i, j int) bool {
			return payloadInt(ordered[i], "sequence_index") < payloadInt(ordered[j], "sequence_index")
		})
		siblings[c.ID] = ordered
		total += len(ordered)
	}
	return siblings, total
}

func idOf(payload map[string]any) string {
	id, _ := payload["id"].(string)
	return id
}
