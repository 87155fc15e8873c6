package chunker

import (
	"context"
	"strings"
	"testing"

	"alexandria/internal/rag/embedder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a caller-controlled vector per sentence, looked up by
// exact text match, so tests can dial in specific similarity sequences.
type fakeEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = make([]float32, f.dim)
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int  { return f.dim }
func (f *fakeEmbedder) ModelID() string { return "fake" }
func (f *fakeEmbedder) Close() error    { return nil }

func TestChunkSingleSentence(t *testing.T) {
	emb := embedder.NewDeterministic(8, true)
	chunks, err := Chunk(context.Background(), emb, "Only one sentence here.", nil, Params{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkID)
	assert.Equal(t, strategyName, chunks[0].Strategy)
}

func TestChunkEmptyInput(t *testing.T) {
	emb := embedder.NewDeterministic(8, true)
	chunks, err := Chunk(context.Background(), emb, "   ", nil, Params{})
	require.NoError(t, err)
	assert.Nil(t, chunks)
}

func TestChunkBreaksOnLowSimilarityPastMinSize(t *testing.T) {
	big := strings.Repeat("word ", 50) // 50 words per sentence
	s1 := big + "alpha."
	s2 := big + "beta."
	s3 := big + "gamma."
	s4 := big + "delta."
	fe := &fakeEmbedder{dim: 4, vectors: map[string][]float32{
		s1: {1, 0, 0, 0},
		s2: {1, 0, 0, 0}, // similar to s1
		s3: {0, 1, 0, 0}, // dissimilar: should cut here once buffer >= min
		s4: {0, 1, 0, 0},
	}}
	text := strings.Join([]string{s1, s2, s3, s4}, " ")
	chunks, err := Chunk(context.Background(), fe, text, map[string]any{"domain": "test"}, Params{
		Threshold: 0.5, MinChunkSize: 80, MaxChunkSize: 1200,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "test", chunks[0].Metadata["domain"])
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkID)
	}
}

func TestChunkForcedByMaxChunkSize(t *testing.T) {
	emb := embedder.NewDeterministic(8, true)
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(strings.Repeat("word ", 100))
		sb.WriteString("Sentence marker.")
		sb.WriteString(" ")
	}
	chunks, err := Chunk(context.Background(), emb, sb.String(), nil, Params{
		Threshold: 0.0, MinChunkSize: 200, MaxChunkSize: 500,
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, c.WordCount, 500)
	}
}

func TestChunkThresholdOneKeepsIdenticalSentencesTogether(t *testing.T) {
	big := strings.Repeat("word ", 210)
	s1 := big + "one."
	s2 := big + "two."
	fe := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		s1: {1, 0},
		s2: {1, 0}, // identical vectors => similarity exactly 1.0
	}}
	text := s1 + " " + s2
	chunks, err := Chunk(context.Background(), fe, text, nil, Params{
		Threshold: 1.0, MinChunkSize: 200, MaxChunkSize: 1200,
	})
	require.NoError(t, err)
	// similarity == 1.0 is not < threshold 1.0, so no semantic cut fires;
	// both sentences remain in one buffer.
	assert.Len(t, chunks, 1)
}

func TestChunkForwardsMetadataVerbatim(t *testing.T) {
	emb := embedder.NewDeterministic(8, true)
	md := map[string]any{"source_id": int64(42), "domain": "philosophy"}
	chunks, err := Chunk(context.Background(), emb, "Single chunk text.", md, Params{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, md, chunks[0].Metadata)
}
