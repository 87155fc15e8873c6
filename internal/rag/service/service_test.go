package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alexandria/internal/config"
	"alexandria/internal/objectstore"
	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/extract"
	"alexandria/internal/rag/ingest"
	"alexandria/internal/rag/obs"
	"alexandria/internal/rag/retrieve"

	"github.com/stretchr/testify/require"
)

func testConfig(dir string) config.Config {
	return config.Config{
		QdrantCollection: "books",
		IngestVersion:    "v1",
		ManifestDir:      dir,
		Embedding:        config.EmbeddingConfig{Dimension: 16},
		Hierarchy: config.HierarchyConfig{
			ParentMaxTokens: 2000,
			ChunkThreshold:  0.2,
			ChunkMinSize:    5,
			ChunkMaxSize:    100,
		},
		Chapter: config.ChapterConfig{FallbackTokenCount: 500, MinSizeTokens: 50},
	}
}

func writeTestBook(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "book.md")
	content := "# Chapter One\n" +
		"This is the first sentence of chapter one. This is the second sentence. A third sentence introduces a different topic with new vocabulary. A fourth sentence continues that new topic.\n" +
		"# Chapter Two\n" +
		"This is the first sentence of chapter two. This is the second sentence of chapter two. A third sentence wraps up chapter two.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestService(t *testing.T, dir string, opts ...Option) *Service {
	t.Helper()
	store := databases.NewMemoryVector()
	emb := embedder.NewDeterministic(16, true)
	ex := extract.New(nil)
	s := New(store, emb, ex, nil, testConfig(dir), opts...)
	require.NoError(t, s.Bootstrap(context.Background(), "books", 16, "cosine"))
	return s
}

func TestIngestBook_EmitsMetricsAndManifestEntry(t *testing.T) {
	dir := t.TempDir()
	metrics := obs.NewMockMetrics()
	s := newTestService(t, dir, WithMetrics(metrics))

	path := writeTestBook(t, dir)
	ctx := context.Background()

	res, err := s.IngestBook(ctx, ingest.BookDescriptor{Source: "test", SourceID: "1", Path: path, Format: "md"})
	require.NoError(t, err)
	require.Equal(t, 2, res.ParentCount)

	if metrics.Counters["ingestion_books_total"] == 0 {
		t.Fatalf("expected ingestion_books_total to be incremented")
	}
	if _, ok := metrics.Hists["ingestion_stage_ms"]; !ok {
		t.Fatalf("expected ingestion_stage_ms observations")
	}

	entries, err := s.ManifestEntries("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRetrieve_EmitsMetrics(t *testing.T) {
	dir := t.TempDir()
	metrics := obs.NewMockMetrics()
	s := newTestService(t, dir, WithMetrics(metrics))

	path := writeTestBook(t, dir)
	ctx := context.Background()
	_, err := s.IngestBook(ctx, ingest.BookDescriptor{Source: "test", SourceID: "1", Path: path, Format: "md"})
	require.NoError(t, err)

	res, err := s.Retrieve(ctx, "first sentence of chapter one", "", retrieve.Options{Limit: 3})
	require.NoError(t, err)
	if len(res.Children) == 0 {
		t.Fatalf("expected at least one retrieved child")
	}

	if metrics.Counters["retrieval_queries_total"] == 0 {
		t.Fatalf("expected retrieval_queries_total to be incremented")
	}
	if _, ok := metrics.Hists["retrieval_stage_ms"]; !ok {
		t.Fatalf("expected retrieval_stage_ms observations")
	}
}

func TestIngestBookFromStore_StagesAndIngests(t *testing.T) {
	dir := t.TempDir()
	store := objectstore.NewMemoryStore()
	s := newTestService(t, dir, WithDocumentStore(store))

	ctx := context.Background()
	content := "# Chapter One\n" +
		"This is the first sentence. This is the second sentence. A third sentence introduces a different topic. A fourth sentence continues it.\n"
	_, err := store.Put(ctx, "books/book.md", strings.NewReader(content), objectstore.PutOptions{})
	require.NoError(t, err)

	res, err := s.IngestBookFromStore(ctx, "books/book.md", ingest.BookDescriptor{Source: "test", SourceID: "2", Format: "md"})
	require.NoError(t, err)
	require.Equal(t, 1, res.ParentCount)
}

func TestIngestBookFromStore_WithoutStoreErrors(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, dir)

	_, err := s.IngestBookFromStore(context.Background(), "x", ingest.BookDescriptor{Source: "test", SourceID: "3"})
	require.ErrorIs(t, err, ErrNoDocumentStore)
}

func TestResolveCollection_FallsBackToDefaultAndErrorsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, dir)

	got, err := s.resolveCollection("")
	require.NoError(t, err)
	require.Equal(t, "books", got)

	got, err = s.resolveCollection("other")
	require.NoError(t, err)
	require.Equal(t, "other", got)

	s.collection = ""
	_, err = s.resolveCollection("")
	require.ErrorIs(t, err, ErrCollectionRequired)
}
