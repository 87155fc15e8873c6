package ingest

import "time"

// BookDescriptor identifies one book to ingest and where it lands.
type BookDescriptor struct {
	Source     string
	SourceID   string
	Path       string
	Format     string // epub|pdf|txt|md|html; inferred from Path if empty
	Domain     string
	Collection string
}

// BatchInput is the C8 batch-mode request.
type BatchInput struct {
	Books  []BookDescriptor
	Resume bool
}

// StageDurations records per-stage wall time for one book ingest.
type StageDurations struct {
	ExtractMs  int64
	ChapterMs  int64
	ChunkMs    int64
	EmbedMs    int64
	UploadMs   int64
}

// Result is the outcome of a single successful book ingest.
type Result struct {
	Source      string
	SourceID    string
	ParentCount int
	ChildCount  int
	Strategy    string
	Durations   StageDurations
}

// Failure records one book that did not ingest.
type Failure struct {
	Source   string
	SourceID string
	Err      error
}

// BatchResult is the outcome of IngestBatch.
type BatchResult struct {
	Succeeded []Result
	Failed    []Failure
	Skipped   []BookDescriptor // already ingested, resume=true
}

// BatchProgress is the persisted record of a batch's progress, enabling
// --resume after a crash or restart (spec.md §6's
// batch_ingest_progress_{collection}.json).
type BatchProgress struct {
	Collection string    `json:"collection"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Processed  []string  `json:"processed"` // "source\x00source_id" keys
	Failed     []string  `json:"failed"`
}

func (p *BatchProgress) markProcessed(key string) {
	p.Processed = append(p.Processed, key)
	p.UpdatedAt = time.Now().UTC()
}

func (p *BatchProgress) markFailed(key string) {
	p.Failed = append(p.Failed, key)
	p.UpdatedAt = time.Now().UTC()
}

func (p *BatchProgress) has(key string) bool {
	for _, k := range p.Processed {
		if k == key {
			return true
		}
	}
	return false
}
