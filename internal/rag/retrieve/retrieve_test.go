package retrieve

import (
	"context"
	"testing"

	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryEmbedder always returns the same fixed vector for any query text, so
// tests can seed the store with vectors at known cosine distances from it.
type queryEmbedder struct{ vector []float32 }

func (q *queryEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = q.vector
	}
	return out, nil
}
func (q *queryEmbedder) Dimension() int  { return len(q.vector) }
func (q *queryEmbedder) ModelID() string { return "fixed" }
func (q *queryEmbedder) Close() error    { return nil }

func seedBook(t *testing.T, store databases.VectorStore, collection string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, collection, 2, "cosine"))
	require.NoError(t, store.Upsert(ctx, collection, []databases.Point{
		{ID: "parent-1", Vector: []float32{1, 0}, Payload: map[string]any{
			"chunk_level": string(model.LevelParent), "source": "lib", "source_id": "1",
			"full_text": "Full parent section text covering the topic in depth.",
		}},
	}))
	var children []databases.Point
	for i := 0; i < 12; i++ {
		children = append(children, databases.Point{
			ID:     idFor(i),
			Vector: []float32{1, 0},
			Payload: map[string]any{
				"chunk_level": string(model.LevelChild), "source": "lib", "source_id": "1",
				"parent_id": "parent-1", "sequence_index": i, "sibling_count": 12,
				"text": "child chunk text number " + idFor(i),
			},
		})
	}
	require.NoError(t, store.Upsert(ctx, collection, children))
}

func idFor(i int) string {
	return "child-" + string(rune('a'+i))
}

func TestRetrieveEmptyQueryReturnsEmptyResult(t *testing.T) {
	store := databases.NewMemoryVector()
	seedBook(t, store, "books")
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(context.Background(), "", "books", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Children)
	assert.Empty(t, res.AssembledContext)
}

func TestRetrieveUnknownCollectionErrors(t *testing.T) {
	store := databases.NewMemoryVector()
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	_, err := eng.Retrieve(context.Background(), "q", "nonexistent-collection-abc", Options{})
	require.Error(t, err)
	var rErr *Error
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, UnknownCollection, rErr.Kind)
}

func TestRetrievePreciseModeSkipsParentsAndSiblings(t *testing.T) {
	store := databases.NewMemoryVector()
	seedBook(t, store, "books")
	// Collection must exist for Stats() to succeed.
	require.NoError(t, store.EnsureCollection(context.Background(), "books", 2, "cosine"))
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(context.Background(), "why", "books", Options{ContextMode: ModePrecise, Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Children)
	assert.Empty(t, res.Parents)
	assert.Empty(t, res.Siblings)
}

func TestRetrieveContextualFetchesParents(t *testing.T) {
	store := databases.NewMemoryVector()
	seedBook(t, store, "books")
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(context.Background(), "why", "books", Options{ContextMode: ModeContextual, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res.Children)
	assert.Contains(t, res.Parents, "parent-1")
	assert.False(t, res.Stats.FallbackUsed)
	assert.Contains(t, res.AssembledContext, "child chunk text")
}

func TestRetrieveComprehensiveSiblingWindow(t *testing.T) {
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 2, "cosine"))
	// Single parent, 12 children (sequence_index 0..11); only sequence_index
	// 5's sibling window [3,7]\{5} should surface, per S4.
	var children []databases.Point
	for i := 0; i < 12; i++ {
		score := float32(0.5)
		if i == 5 {
			score = 1.0
		}
		children = append(children, databases.Point{
			ID:     idFor(i),
			Vector: []float32{score, 1 - score},
			Payload: map[string]any{
				"chunk_level": "child", "source": "lib", "source_id": "1",
				"parent_id": "parent-1", "sequence_index": i, "sibling_count": 12,
				"text": "child text " + idFor(i),
			},
		})
	}
	require.NoError(t, store.Upsert(ctx, "books", children))
	require.NoError(t, store.Upsert(ctx, "books", []databases.Point{
		{ID: "parent-1", Vector: []float32{1, 0}, Payload: map[string]any{
			"chunk_level": "parent", "full_text": "parent text",
		}},
	}))

	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(ctx, "q", "books", Options{
		ContextMode: ModeComprehensive, Limit: 1, SiblingWindow: 2, Threshold: 0,
	})
	require.NoError(t, err)
	require.Len(t, res.Children, 1)
	matchedID := res.Children[0].ID
	siblings := res.Siblings[matchedID]
	require.Len(t, siblings, 4)
	var seqs []int
	for _, s := range siblings {
		seqs = append(seqs, payloadInt(s, "sequence_index"))
	}
	assert.Equal(t, []int{3, 4, 6, 7}, seqs)
	for _, seq := range seqs {
		assert.NotEqual(t, 5, seq)
	}
}

func TestRetrieveThresholdFiltersLowScores(t *testing.T) {
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 2, "cosine"))
	require.NoError(t, store.Upsert(ctx, "books", []databases.Point{
		{ID: "c1", Vector: []float32{0, 1}, Payload: map[string]any{ // orthogonal: score 0
			"chunk_level": "child", "text": "unrelated",
		}},
	}))
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(ctx, "q", "books", Options{Threshold: 0.3})
	require.NoError(t, err)
	assert.Empty(t, res.Children)
	assert.Empty(t, res.AssembledContext)
}

func TestRetrieveMissingParentSetsFallback(t *testing.T) {
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 2, "cosine"))
	require.NoError(t, store.Upsert(ctx, "books", []databases.Point{
		{ID: "c1", Vector: []float32{1, 0}, Payload: map[string]any{
			"chunk_level": "child", "text": "legacy chunk, no parent_id",
		}},
	}))
	eng := New(store, &queryEmbedder{vector: []float32{1, 0}})
	res, err := eng.Retrieve(ctx, "q", "books", Options{ContextMode: ModeContextual})
	require.NoError(t, err)
	require.NotEmpty(t, res.Children)
	assert.Empty(t, res.Parents)
	assert.True(t, res.Stats.FallbackUsed)
}
