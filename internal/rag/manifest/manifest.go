// Package manifest implements the Collection Manifest (C7): a
// single-writer-per-collection ledger tracking which books have been
// ingested into a given vector-store collection.
package manifest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/model"
)

// Manifest is the on-disk ledger for one collection. All methods are safe
// for concurrent use by the single writer that owns this instance.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]model.ManifestEntry
}

// Load reads the manifest file at path, creating an empty ledger if it does
// not exist yet. A corrupt file triggers a salvage attempt: entries that
// parse are kept, the original file is quarantined alongside it, and
// loading proceeds rather than silently discarding good data.
func Load(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]model.ManifestEntry)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var entries []model.ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		salvaged, salvageErr := salvageEntries(raw)
		if quarantineErr := quarantine(path, raw); quarantineErr != nil {
			return nil, fmt.Errorf("manifest: corrupt %s, quarantine failed: %w", path, quarantineErr)
		}
		if salvageErr != nil {
			// Nothing recoverable; start clean, but the quarantine backup
			// preserves the broken file for inspection.
			return m, nil
		}
		entries = salvaged
	}

	for _, e := range entries {
		m.entries[e.Key()] = e
	}
	return m, nil
}

// salvageEntries attempts a best-effort recovery of a malformed manifest:
// the outer array is split into raw elements, and individually-invalid
// elements are skipped rather than failing the whole load.
func salvageEntries(raw []byte) ([]model.ManifestEntry, error) {
	var rawElems []json.RawMessage
	if err := json.Unmarshal(raw, &rawElems); err != nil {
		return nil, fmt.Errorf("manifest: no recoverable entries: %w", err)
	}
	var out []model.ManifestEntry
	for _, elem := range rawElems {
		var e model.ManifestEntry
		if err := json.Unmarshal(elem, &e); err != nil {
			continue
		}
		if e.Source != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("manifest: no recoverable entries")
	}
	return out, nil
}

func quarantine(path string, raw []byte) error {
	backup := path + ".corrupt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(backup, raw, 0o644)
}

// IsIngested reports whether (source, sourceID) already has a ledger entry.
func (m *Manifest) IsIngested(source, sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[source+"\x00"+sourceID]
	return ok
}

// LogBook records or replaces the entry for entry.Key(), then atomically
// rewrites the manifest file (write temp + rename) so a crash mid-write
// never leaves a partial file in place.
func (m *Manifest) LogBook(entry model.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key()] = entry
	return m.flushLocked()
}

// RemoveBook deletes the ledger entry, mirroring a deletion already applied
// to the store.
func (m *Manifest) RemoveBook(source, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, source+"\x00"+sourceID)
	return m.flushLocked()
}

func (m *Manifest) flushLocked() error {
	list := m.sortedLocked()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("manifest: mkdir %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: rename: %w", err)
	}
	return nil
}

func (m *Manifest) sortedLocked() []model.ManifestEntry {
	out := make([]model.ManifestEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ExportCSV writes a fixed-schema, human-readable report of every entry.
func (m *Manifest) ExportCSV(path string) error {
	m.mu.Lock()
	list := m.sortedLocked()
	m.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("manifest: create csv %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"source", "source_id", "path", "title", "authors", "language", "format",
		"domain", "parent_count", "child_count", "byte_size", "ingested_at",
		"ingest_version", "embedding_model", "chunking_strategy",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range list {
		row := []string{
			e.Source, e.SourceID, e.Path, e.Title, joinAuthors(e.Authors), e.Language, e.Format,
			e.Domain, strconv.Itoa(e.ParentCount), strconv.Itoa(e.ChildCount), strconv.FormatInt(e.ByteSize, 10),
			e.IngestedAt.UTC().Format(time.RFC3339), e.IngestVersion, e.EmbeddingModel, e.ChunkingStrategy,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func joinAuthors(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	out := authors[0]
	for _, a := range authors[1:] {
		out += "; " + a
	}
	return out
}

// SyncFromStore rebuilds per-book parent/child counts from the store's
// payloads, recovering counts (but not original file paths) after the
// manifest file itself has been lost.
func (m *Manifest) SyncFromStore(ctx context.Context, store databases.VectorStore, collection string) error {
	type agg struct {
		source, sourceID string
		title, language  string
		authors           []string
		domain            string
		parents, children int
		ingestedAt        time.Time
		ingestVersion     string
		embeddingModel    string
		strategy          string
	}
	aggs := make(map[string]*agg)

	const scrollPageSize = 10000
	payloads, err := store.Scroll(ctx, collection, databases.Filter{}, scrollPageSize)
	if err != nil {
		return fmt.Errorf("manifest: scroll %s: %w", collection, err)
	}
	for _, payload := range payloads {
		source, _ := payload["source"].(string)
		sourceID, _ := payload["source_id"].(string)
		if source == "" && sourceID == "" {
			continue
		}
		key := source + "\x00" + sourceID
		a, ok := aggs[key]
		if !ok {
			a = &agg{source: source, sourceID: sourceID}
			aggs[key] = a
		}
		if level, _ := payload["chunk_level"].(string); level == string(model.LevelParent) {
			a.parents++
		} else {
			a.children++
		}
		if t, ok := payload["book_title"].(string); ok && t != "" {
			a.title = t
		}
		if l, ok := payload["language"].(string); ok && l != "" {
			a.language = l
		}
		if d, ok := payload["domain"].(string); ok && d != "" {
			a.domain = d
		}
		if v, ok := payload["ingest_version"].(string); ok && v != "" {
			a.ingestVersion = v
		}
		if em, ok := payload["embedding_model"].(string); ok && em != "" {
			a.embeddingModel = em
		}
		if s, ok := payload["strategy"].(string); ok && s != "" {
			a.strategy = s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]model.ManifestEntry, len(aggs))
	for key, a := range aggs {
		m.entries[key] = model.ManifestEntry{
			Source:           a.source,
			SourceID:         a.sourceID,
			Title:            a.title,
			Authors:          a.authors,
			Language:         a.language,
			Domain:           a.domain,
			ParentCount:      a.parents,
			ChildCount:       a.children,
			IngestedAt:       time.Now().UTC(),
			IngestVersion:    a.ingestVersion,
			EmbeddingModel:   a.embeddingModel,
			ChunkingStrategy: a.strategy,
		}
	}
	return m.flushLocked()
}

// VerifyCollectionExists checks the store for the named collection. If the
// collection is missing, the manifest resets itself to empty rather than
// continuing to report stale is_ingested answers.
func (m *Manifest) VerifyCollectionExists(ctx context.Context, store databases.VectorStore, collection string) (bool, error) {
	_, err := store.Stats(ctx, collection)
	if err == nil {
		return true, nil
	}
	m.mu.Lock()
	m.entries = make(map[string]model.ManifestEntry)
	flushErr := m.flushLocked()
	m.mu.Unlock()
	if flushErr != nil {
		return false, flushErr
	}
	return false, nil
}

// Entries returns a sorted snapshot of the current ledger.
func (m *Manifest) Entries() []model.ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}
