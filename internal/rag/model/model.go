// Package model holds the chunk/book/event record shapes shared across the
// ingestion and retrieval pipelines (spec.md §3's data model), so every
// component reads and writes the same envelope instead of redefining it.
package model

import "time"

// ChunkLevel distinguishes a parent (section) chunk from a child
// (semantically-bounded sub-chunk) chunk.
type ChunkLevel string

const (
	LevelParent ChunkLevel = "parent"
	LevelChild  ChunkLevel = "child"
)

// Envelope carries the fields common to every chunk, parent or child.
type Envelope struct {
	ID              string         `json:"id"`
	Level           ChunkLevel     `json:"chunk_level"`
	Source          string         `json:"source"`
	SourceID        string         `json:"source_id"`
	BookTitle       string         `json:"book_title"`
	Authors         []string       `json:"authors,omitempty"`
	Language        string         `json:"language,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	IngestedAt      time.Time      `json:"ingested_at"`
	IngestVersion   string         `json:"ingest_version"`
	Strategy        string         `json:"strategy"`
	EmbeddingModel  string         `json:"embedding_model"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ParentChunk represents a top-level book section.
type ParentChunk struct {
	Envelope
	SectionName    string `json:"section_name"`
	SectionIndex   int    `json:"section_index"`
	ChildCount     int    `json:"child_count"`
	EmbeddingText  string `json:"embedding_text"`
	FullText       string `json:"full_text"`
	Vector         []float32 `json:"-"`
}

// ChildChunk represents a semantically-bounded sub-chunk of a parent.
type ChildChunk struct {
	Envelope
	ParentID      string    `json:"parent_id"`
	SectionName   string    `json:"section_name"`
	SequenceIndex int       `json:"sequence_index"`
	SiblingCount  int       `json:"sibling_count"`
	SentenceRange [2]int    `json:"sentence_range,omitempty"`
	WordCount     int       `json:"word_count"`
	Text          string    `json:"text"`
	Vector        []float32 `json:"-"`
}

// Book is the read-only metadata record consumed from the Book Catalog
// Adapter (C11). The core never writes to it.
type Book struct {
	SourceID int64      `json:"source_id"`
	Title    string     `json:"title"`
	Authors  []string   `json:"authors"`
	Language string     `json:"language"`
	Paths    []BookPath `json:"paths"`
	Tags     []string   `json:"tags,omitempty"`
}

// BookPath is a physical file backing a Book, tagged with its format.
type BookPath struct {
	Path   string `json:"path"`
	Format string `json:"format"` // epub|pdf|txt|md|html
}

// ManifestEntry is one row of the Collection Manifest (C7) — the
// idempotency ledger keyed by (Source, SourceID).
type ManifestEntry struct {
	Source          string    `json:"source"`
	SourceID        string    `json:"source_id"`
	Path            string    `json:"path"`
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Language        string    `json:"language"`
	Format          string    `json:"format"`
	Domain          string    `json:"domain"`
	ParentCount     int       `json:"parent_count"`
	ChildCount      int       `json:"child_count"`
	ByteSize        int64     `json:"byte_size"`
	IngestedAt      time.Time `json:"ingested_at"`
	IngestVersion   string    `json:"ingest_version"`
	EmbeddingModel  string    `json:"embedding_model"`
	ChunkingStrategy string   `json:"chunking_strategy"`
}

// Key uniquely identifies a manifest entry / book within a collection.
func (e ManifestEntry) Key() string { return e.Source + "\x00" + e.SourceID }

// EventType enumerates the append-only events the Event Log records.
type EventType string

const (
	EventIngestStart    EventType = "ingest_start"
	EventIngestComplete EventType = "ingest_complete"
	EventIngestError    EventType = "ingest_error"
)

// Event is one append-only record (C10).
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Hostname  string         `json:"hostname"`
	Type      EventType      `json:"event_type"`
	Source    string         `json:"source"`
	SourceID  string         `json:"source_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}
