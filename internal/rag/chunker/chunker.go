// Package chunker implements the Universal Semantic Chunker (C5): splitting
// text into semantically cohesive chunks by walking sentence-embedding
// cosine similarity under word-count bounds.
package chunker

import (
	"context"
	"fmt"
	"math"
	"strings"

	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/sentence"
	"alexandria/internal/util"
)

// Chunk is one emitted unit of text, sequential within a single chunk() call.
type Chunk struct {
	ChunkID   int
	Text      string
	WordCount int
	Strategy  string
	Metadata  map[string]any
}

// Params configures the semantic-cut rule. Domain may override Threshold
// with a single scalar (spec.md §9) — it never branches into a separate
// algorithm.
type Params struct {
	Threshold    float64 // default 0.55
	MinChunkSize int     // words, default 200
	MaxChunkSize int     // words, default 1200
}

func (p Params) withDefaults() Params {
	if p.Threshold == 0 {
		p.Threshold = 0.55
	}
	if p.MinChunkSize <= 0 {
		p.MinChunkSize = 200
	}
	if p.MaxChunkSize <= 0 {
		p.MaxChunkSize = 1200
	}
	return p
}

const strategyName = "universal-semantic"

// Chunk splits text into chunks per spec.md §4.5. metadata is forwarded
// verbatim onto every emitted chunk; the chunker never fabricates fields.
func Chunk(ctx context.Context, emb embedder.Embedder, text string, metadata map[string]any, params Params) ([]Chunk, error) {
	params = params.withDefaults()

	sentences := sentence.Split(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	vectors, err := emb.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("chunker: embed sentences: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("chunker: embedding mismatch: %d sentences, %d vectors", len(sentences), len(vectors))
	}

	var chunks []Chunk
	buffer := []string{sentences[0]}
	bufferWords := util.CountTokens(sentences[0])

	flush := func() {
		text := strings.Join(buffer, " ")
		chunks = append(chunks, Chunk{
			ChunkID:   len(chunks),
			Text:      text,
			WordCount: bufferWords,
			Strategy:  strategyName,
			Metadata:  metadata,
		})
	}

	for i := 1; i < len(sentences); i++ {
		wordCount := util.CountTokens(sentences[i])
		similarity := cosine(vectors[i-1], vectors[i])

		shouldBreak := similarity < params.Threshold && bufferWords >= params.MinChunkSize
		mustBreak := bufferWords+wordCount > params.MaxChunkSize

		if shouldBreak || mustBreak {
			flush()
			buffer = []string{sentences[i]}
			bufferWords = wordCount
			continue
		}
		buffer = append(buffer, sentences[i])
		bufferWords += wordCount
	}
	flush()

	return chunks, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		normA += float64(x) * float64(x)
	}
	for _, x := range b {
		normB += float64(x) * float64(x)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
