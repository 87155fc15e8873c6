package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBookAndIsIngested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	m, err := Load(path)
	require.NoError(t, err)

	assert.False(t, m.IsIngested("library", "42"))

	entry := model.ManifestEntry{
		Source: "library", SourceID: "42", Title: "Example",
		ParentCount: 3, ChildCount: 12, IngestedAt: time.Now(),
	}
	require.NoError(t, m.LogBook(entry))
	assert.True(t, m.IsIngested("library", "42"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsIngested("library", "42"))
	assert.Len(t, reloaded.Entries(), 1)
}

func TestRemoveBook(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	entry := model.ManifestEntry{Source: "library", SourceID: "1"}
	require.NoError(t, m.LogBook(entry))
	require.NoError(t, m.RemoveBook("library", "1"))
	assert.False(t, m.IsIngested("library", "1"))
}

func TestLoadQuarantinesUnsalvageableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	// Valid first element, garbage trailing bytes.
	broken := `[{"source":"library","source_id":"1","title":"Good"}` + "\x00garbage"
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.False(t, m.IsIngested("library", "1")) // whole-array parse failed; salvage needs a valid array

	matches, _ := filepath.Glob(path + ".corrupt-*")
	assert.Len(t, matches, 1)
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, m.LogBook(model.ManifestEntry{
		Source: "library", SourceID: "1", Title: "Book One", Authors: []string{"A", "B"},
		ParentCount: 2, ChildCount: 8, IngestedAt: time.Now(),
	}))

	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, m.ExportCSV(csvPath))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Book One")
	assert.Contains(t, string(data), "A; B")
}

func TestSyncFromStoreRebuildsCounts(t *testing.T) {
	store := databases.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "books", 4, "cosine"))
	require.NoError(t, store.Upsert(ctx, "books", []databases.Point{
		{ID: "p1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{
			"source": "library", "source_id": "1", "chunk_level": "parent", "book_title": "Book One",
		}},
		{ID: "c1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{
			"source": "library", "source_id": "1", "chunk_level": "child",
		}},
		{ID: "c2", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{
			"source": "library", "source_id": "1", "chunk_level": "child",
		}},
	}))

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, m.SyncFromStore(ctx, store, "books"))

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ParentCount)
	assert.Equal(t, 2, entries[0].ChildCount)
	assert.Equal(t, "Book One", entries[0].Title)
}

// statsErrorStore is a minimal VectorStore whose Stats always reports the
// collection missing, exercising the not-found path without seeding a store.
type statsErrorStore struct{ databases.VectorStore }

func (statsErrorStore) Stats(context.Context, string) (databases.StoreStats, error) {
	return databases.StoreStats{}, errCollectionMissing
}

var errCollectionMissing = errors.New("collection not found")

func TestVerifyCollectionExistsResetsOnMissingCollection(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, m.LogBook(model.ManifestEntry{Source: "library", SourceID: "1"}))
	require.True(t, m.IsIngested("library", "1"))

	exists, err := m.VerifyCollectionExists(ctx, statsErrorStore{}, "missing-collection")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, m.IsIngested("library", "1"))
}
