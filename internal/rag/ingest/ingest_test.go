package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/chapters"
	"alexandria/internal/rag/chunker"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/events"
	"alexandria/internal/rag/extract"
	"alexandria/internal/rag/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrchestrator(t *testing.T, store databases.VectorStore, manifestDir string) *Orchestrator {
	t.Helper()
	emb := embedder.NewDeterministic(16, true)
	ex := extract.New(nil)
	evt := events.New(store, nil)
	require.NoError(t, evt.EnsureCollection(context.Background()))

	loadManifest := func(collection string) (*manifest.Manifest, error) {
		return manifest.Load(filepath.Join(manifestDir, collection+"_manifest.json"))
	}

	return New(ex, emb, store, evt, nil, Config{
		IngestVersion:      "v1",
		EmbeddingDimension: 16,
		ChapterParams:      chapters.Params{FallbackTokenCount: 500, MinSizeTokens: 50},
		ChunkParams:        chunker.Params{MinChunkSize: 5, MaxChunkSize: 100},
	}, loadManifest)
}

func writeTestBook(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "book.md")
	content := "# Chapter One\n" +
		"This is the first sentence of chapter one. This is the second sentence. Here is a third sentence about a different topic entirely, introducing new vocabulary and concepts. And a fourth sentence continuing that new topic further.\n" +
		"# Chapter Two\n" +
		"This is the first sentence of chapter two. This is the second sentence of chapter two, continuing the same idea. A third sentence wraps up chapter two nicely.\n"
	require.NoError(t, writeFile(path, content))
	return path
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestIngestBookProducesParentsAndChildren(t *testing.T) {
	dir := t.TempDir()
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 16, "cosine"))

	orch := testOrchestrator(t, store, dir)
	path := writeTestBook(t, dir)

	res, err := orch.IngestBook(ctx, BookDescriptor{
		Source: "library", SourceID: "1", Path: path, Collection: "books",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ParentCount)
	assert.Greater(t, res.ChildCount, 0)

	stats, err := store.Stats(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(res.ParentCount+res.ChildCount), stats.PointsCount)

	m, err := manifest.Load(filepath.Join(dir, "books_manifest.json"))
	require.NoError(t, err)
	assert.True(t, m.IsIngested("library", "1"))
}

func TestReingestIsIdempotentInChunkCount(t *testing.T) {
	dir := t.TempDir()
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 16, "cosine"))

	orch := testOrchestrator(t, store, dir)
	path := writeTestBook(t, dir)

	res1, err := orch.IngestBook(ctx, BookDescriptor{Source: "library", SourceID: "1", Path: path, Collection: "books"})
	require.NoError(t, err)
	res2, err := orch.IngestBook(ctx, BookDescriptor{Source: "library", SourceID: "1", Path: path, Collection: "books"})
	require.NoError(t, err)

	assert.Equal(t, res1.ParentCount, res2.ParentCount)
	assert.Equal(t, res1.ChildCount, res2.ChildCount)

	stats, err := store.Stats(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(res2.ParentCount+res2.ChildCount), stats.PointsCount)
}

func TestIngestBatchResumeSkipsManifested(t *testing.T) {
	dir := t.TempDir()
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 16, "cosine"))

	orch := testOrchestrator(t, store, dir)
	path := writeTestBook(t, dir)
	desc := BookDescriptor{Source: "library", SourceID: "1", Path: path, Collection: "books"}

	_, err := orch.IngestBook(ctx, desc)
	require.NoError(t, err)

	result, err := orch.IngestBatch(ctx, ProgressPath(dir, "books"), BatchInput{
		Books: []BookDescriptor{desc}, Resume: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Skipped, 1)
	assert.Empty(t, result.Succeeded)
}

func TestIngestBatchProcessesMultipleBooks(t *testing.T) {
	dir := t.TempDir()
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 16, "cosine"))

	orch := testOrchestrator(t, store, dir)
	path1 := writeTestBook(t, dir)
	path2 := filepath.Join(dir, "book2.md")
	require.NoError(t, writeFile(path2, "# Only Chapter\nJust one short section with a few sentences. Another sentence follows here."))

	result, err := orch.IngestBatch(ctx, ProgressPath(dir, "books"), BatchInput{
		Books: []BookDescriptor{
			{Source: "library", SourceID: "1", Path: path1, Collection: "books"},
			{Source: "library", SourceID: "2", Path: path2, Collection: "books"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 2)
	assert.Empty(t, result.Failed)
}
