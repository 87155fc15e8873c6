package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// loadProgress reads a batch progress file, returning a fresh empty record
// if it does not exist yet. Corruption here is non-critical (resume just
// restarts from scratch) so no salvage routine is attempted, unlike the
// manifest's stricter guarantee.
func loadProgress(path string) (*BatchProgress, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &BatchProgress{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read progress %s: %w", path, err)
	}
	var p BatchProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return &BatchProgress{}, nil
	}
	return &p, nil
}

// saveProgress writes p atomically (temp file + rename), mirroring the
// Collection Manifest's write discipline (internal/rag/manifest).
func saveProgress(path string, p *BatchProgress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("ingest: marshal progress: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ingest: mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("ingest: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ingest: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ingest: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ingest: rename: %w", err)
	}
	return nil
}

// ProgressPath derives the conventional progress file path for collection
// within dir (spec.md §6).
func ProgressPath(dir, collection string) string {
	return filepath.Join(dir, "batch_ingest_progress_"+collection+".json")
}
