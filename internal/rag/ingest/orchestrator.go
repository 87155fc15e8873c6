// Package ingest implements the Ingestion Orchestrator (C8): the
// per-book pipeline from file path to upserted parent/child chunks, plus
// bounded-parallel batch mode with resume support.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"alexandria/internal/hostinfo"
	"alexandria/internal/observability"
	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/chapters"
	"alexandria/internal/rag/chunker"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/events"
	"alexandria/internal/rag/extract"
	"alexandria/internal/rag/manifest"
	"alexandria/internal/rag/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MetadataResolver resolves catalog metadata for a book (C11's read side).
// Optional: when nil, the orchestrator falls back to descriptor fields.
type MetadataResolver interface {
	GetByID(ctx context.Context, sourceID int64) (model.Book, bool, error)
}

// Config fixes the tunables the orchestrator needs beyond its collaborators.
type Config struct {
	IngestVersion        string
	EmbeddingDimension   int
	ParentMaxTokens      int  // hierarchy_parent_max_tokens, default 2000
	ParentStoreFullText  bool // config.Load defaults this to true
	WorkerCount          int  // default min(cpu_count, 4)
	ChapterParams        chapters.Params
	ChunkParams          chunker.Params
}

func (c Config) withDefaults() Config {
	if c.ParentMaxTokens <= 0 {
		c.ParentMaxTokens = 2000
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
		if c.WorkerCount > 4 {
			c.WorkerCount = 4
		}
	}
	return c
}

// Orchestrator is the C8 handle.
type Orchestrator struct {
	extractor extract.Extractor
	emb       embedder.Embedder
	store     databases.VectorStore
	events    *events.Log
	resolver  MetadataResolver
	cfg       Config

	mu         sync.Mutex
	manifests  map[string]*manifest.Manifest // collection -> manifest writer
	loadManifest func(collection string) (*manifest.Manifest, error)
	host       hostinfo.HostInfo
}

// New constructs an Orchestrator. loadManifest resolves (and caches) the
// single writer per collection (spec.md §4.7/§5). Host characteristics are
// probed once and attached to every ingest_start event so an operator can
// correlate embedding throughput with the machine that ran it.
func New(extractor extract.Extractor, emb embedder.Embedder, store databases.VectorStore, evt *events.Log, resolver MetadataResolver, cfg Config, loadManifest func(collection string) (*manifest.Manifest, error)) *Orchestrator {
	host, _ := hostinfo.GetHostInfo()
	return &Orchestrator{
		extractor:    extractor,
		emb:          emb,
		store:        store,
		events:       evt,
		resolver:     resolver,
		cfg:          cfg.withDefaults(),
		manifests:    make(map[string]*manifest.Manifest),
		loadManifest: loadManifest,
		host:         host,
	}
}

func (o *Orchestrator) manifestFor(collection string) (*manifest.Manifest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.manifests[collection]; ok {
		return m, nil
	}
	m, err := o.loadManifest(collection)
	if err != nil {
		return nil, err
	}
	o.manifests[collection] = m
	return m, nil
}

// IngestBook runs the full single-book pipeline (spec.md §4.8 steps 1-8).
func (o *Orchestrator) IngestBook(ctx context.Context, desc BookDescriptor) (Result, error) {
	var durations StageDurations

	if o.events != nil {
		o.events.Emit(ctx, model.Event{
			Type: model.EventIngestStart, Source: desc.Source, SourceID: desc.SourceID,
			Timestamp: time.Now(), Payload: map[string]any{"path": desc.Path, "host": o.host},
		})
	}

	fail := func(err error) (Result, error) {
		if o.events != nil {
			o.events.Emit(ctx, model.Event{
				Type: model.EventIngestError, Source: desc.Source, SourceID: desc.SourceID,
				Timestamp: time.Now(), Payload: map[string]any{"error": err.Error()},
			})
		}
		return Result{}, err
	}

	title, authors, language := desc.Source, []string(nil), ""
	if o.resolver != nil {
		if sourceID, ok := parseInt64(desc.SourceID); ok {
			if book, found, err := o.resolver.GetByID(ctx, sourceID); err == nil && found {
				title, authors, language = book.Title, book.Authors, book.Language
			}
		}
	}

	format := desc.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(desc.Path)), ".")
	}

	extractStart := time.Now()
	spanCtx, endSpan := observability.StartSpan(ctx, "alexandria/ingest", "extract", map[string]any{"source": desc.Source, "format": format})
	extracted, err := o.extractor.Extract(spanCtx, desc.Path, format)
	endSpan(err)
	durations.ExtractMs = time.Since(extractStart).Milliseconds()
	if err != nil {
		return fail(fmt.Errorf("extract: %w", err))
	}
	if extracted.Metadata.Title != "" {
		title = extracted.Metadata.Title
	}
	if len(extracted.Metadata.Authors) > 0 {
		authors = extracted.Metadata.Authors
	}
	if extracted.Metadata.Language != "" {
		language = extracted.Metadata.Language
	}

	chapterStart := time.Now()
	_, endChapterSpan := observability.StartSpan(ctx, "alexandria/ingest", "chapter_detect", map[string]any{"source": desc.Source})
	chs, strategy := chapters.Detect(extracted, o.cfg.ChapterParams)
	endChapterSpan(nil)
	durations.ChapterMs = time.Since(chapterStart).Milliseconds()

	now := time.Now().UTC()
	envelope := func(level model.ChunkLevel) model.Envelope {
		return model.Envelope{
			Level: level, Source: desc.Source, SourceID: desc.SourceID,
			BookTitle: title, Authors: authors, Language: language, Domain: desc.Domain,
			IngestedAt: now, IngestVersion: o.cfg.IngestVersion,
			Strategy: string(strategy), EmbeddingModel: o.emb.ModelID(),
		}
	}

	parents := make([]model.ParentChunk, 0, len(chs))
	childrenByParent := make([][]model.ChildChunk, len(chs))

	chunkStart := time.Now()
	chunkCtx, endChunkSpan := observability.StartSpan(ctx, "alexandria/ingest", "chunk", map[string]any{"source": desc.Source, "sections": len(chs)})
	for i, ch := range chs {
		parentID := uuid.NewString()
		embeddingText := truncateToTokens(ch.Text, o.cfg.ParentMaxTokens)
		fullText := ""
		if o.cfg.ParentStoreFullText {
			fullText = ch.Text
		}
		parent := model.ParentChunk{
			Envelope:      envelope(model.LevelParent),
			SectionName:   ch.Title,
			SectionIndex:  ch.Index,
			EmbeddingText: embeddingText,
			FullText:      fullText,
		}
		parent.ID = parentID

		childChunks, err := chunker.Chunk(chunkCtx, o.emb, ch.Text, nil, o.cfg.ChunkParams)
		if err != nil {
			endChunkSpan(err)
			return fail(fmt.Errorf("chunk section %q: %w", ch.Title, err))
		}
		k := len(childChunks)
		parent.ChildCount = k

		children := make([]model.ChildChunk, 0, k)
		for _, cc := range childChunks {
			child := model.ChildChunk{
				Envelope:      envelope(model.LevelChild),
				ParentID:      parentID,
				SectionName:   ch.Title,
				SequenceIndex: cc.ChunkID,
				SiblingCount:  k,
				WordCount:     cc.WordCount,
				Text:          cc.Text,
			}
			child.ID = uuid.NewString()
			children = append(children, child)
		}

		parents = append(parents, parent)
		childrenByParent[i] = children
	}
	endChunkSpan(nil)
	durations.ChunkMs = time.Since(chunkStart).Milliseconds()

	embedStart := time.Now()
	embedCtx, endEmbedSpan := observability.StartSpan(ctx, "alexandria/ingest", "embed", map[string]any{"source": desc.Source, "parents": len(parents)})
	if err := o.embedParents(embedCtx, parents); err != nil {
		endEmbedSpan(err)
		return fail(fmt.Errorf("embed parents: %w", err))
	}
	var allChildren []model.ChildChunk
	for _, cs := range childrenByParent {
		allChildren = append(allChildren, cs...)
	}
	if err := o.embedChildren(embedCtx, allChildren); err != nil {
		endEmbedSpan(err)
		return fail(fmt.Errorf("embed children: %w", err))
	}
	endEmbedSpan(nil)
	durations.EmbedMs = time.Since(embedStart).Milliseconds()

	uploadStart := time.Now()
	uploadCtx, endUploadSpan := observability.StartSpan(ctx, "alexandria/ingest", "upload", map[string]any{"source": desc.Source, "children": len(allChildren)})
	deleteFilter := databases.Filter{Must: []databases.Condition{
		databases.Eq("source", desc.Source),
		databases.Eq("source_id", desc.SourceID),
	}}
	if err := o.store.DeleteByFilter(uploadCtx, desc.Collection, deleteFilter); err != nil {
		endUploadSpan(err)
		return fail(fmt.Errorf("delete existing chunks: %w", err))
	}
	if err := o.store.Upsert(uploadCtx, desc.Collection, parentPoints(parents)); err != nil {
		endUploadSpan(err)
		return fail(fmt.Errorf("upsert parents: %w", err))
	}
	if err := o.store.Upsert(uploadCtx, desc.Collection, childPoints(allChildren)); err != nil {
		endUploadSpan(err)
		return fail(fmt.Errorf("upsert children: %w", err))
	}
	endUploadSpan(nil)
	durations.UploadMs = time.Since(uploadStart).Milliseconds()

	var byteSize int64
	m, err := o.manifestFor(desc.Collection)
	if err != nil {
		return fail(fmt.Errorf("manifest: %w", err))
	}
	entry := model.ManifestEntry{
		Source: desc.Source, SourceID: desc.SourceID, Path: desc.Path,
		Title: title, Authors: authors, Language: language, Format: format, Domain: desc.Domain,
		ParentCount: len(parents), ChildCount: len(allChildren), ByteSize: byteSize,
		IngestedAt: now, IngestVersion: o.cfg.IngestVersion, EmbeddingModel: o.emb.ModelID(),
		ChunkingStrategy: string(strategy),
	}
	if err := m.LogBook(entry); err != nil {
		return fail(fmt.Errorf("log manifest: %w", err))
	}

	if o.events != nil {
		o.events.Emit(ctx, model.Event{
			Type: model.EventIngestComplete, Source: desc.Source, SourceID: desc.SourceID,
			Timestamp: time.Now(), Payload: map[string]any{
				"parent_count": len(parents), "child_count": len(allChildren),
				"extract_ms": durations.ExtractMs, "chapter_ms": durations.ChapterMs,
				"chunk_ms": durations.ChunkMs, "embed_ms": durations.EmbedMs, "upload_ms": durations.UploadMs,
			},
		})
	}

	return Result{
		Source: desc.Source, SourceID: desc.SourceID,
		ParentCount: len(parents), ChildCount: len(allChildren),
		Strategy: string(strategy), Durations: durations,
	}, nil
}

func (o *Orchestrator) embedParents(ctx context.Context, parents []model.ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}
	texts := make([]string, len(parents))
	for i, p := range parents {
		texts[i] = p.EmbeddingText
	}
	vecs, err := o.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(parents) {
		return fmt.Errorf("embedding mismatch: %d parents, %d vectors", len(parents), len(vecs))
	}
	for i := range parents {
		parents[i].Vector = vecs[i]
	}
	return nil
}

func (o *Orchestrator) embedChildren(ctx context.Context, children []model.ChildChunk) error {
	if len(children) == 0 {
		return nil
	}
	texts := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
	}
	vecs, err := o.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(children) {
		return fmt.Errorf("embedding mismatch: %d children, %d vectors", len(children), len(vecs))
	}
	for i := range children {
		children[i].Vector = vecs[i]
	}
	return nil
}

func parentPoints(parents []model.ParentChunk) []databases.Point {
	out := make([]databases.Point, len(parents))
	for i, p := range parents {
		out[i] = databases.Point{
			ID:     p.ID,
			Vector: p.Vector,
			Payload: map[string]any{
				"chunk_level": string(p.Level), "source": p.Source, "source_id": p.SourceID,
				"book_title": p.BookTitle, "language": p.Language, "domain": p.Domain,
				"ingest_version": p.IngestVersion, "strategy": p.Strategy, "embedding_model": p.EmbeddingModel,
				"section_name": p.SectionName, "section_index": p.SectionIndex, "child_count": p.ChildCount,
				"embedding_text": p.EmbeddingText, "full_text": p.FullText,
			},
		}
	}
	return out
}

func childPoints(children []model.ChildChunk) []databases.Point {
	out := make([]databases.Point, len(children))
	for i, c := range children {
		out[i] = databases.Point{
			ID:     c.ID,
			Vector: c.Vector,
			Payload: map[string]any{
				"chunk_level": string(c.Level), "source": c.Source, "source_id": c.SourceID,
				"book_title": c.BookTitle, "language": c.Language, "domain": c.Domain,
				"ingest_version": c.IngestVersion, "strategy": c.Strategy, "embedding_model": c.EmbeddingModel,
				"parent_id": c.ParentID, "section_name": c.SectionName, "sequence_index": c.SequenceIndex,
				"sibling_count": c.SiblingCount, "word_count": c.WordCount, "text": c.Text,
			},
		}
	}
	return out
}

func parseInt64(s string) (int64, bool) {
	var n int64
	var found bool
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
		found = true
	}
	return n, found
}

func truncateToTokens(text string, maxTokens int) string {
	if chapters.CountTokens(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if chapters.CountTokens(strings.Join(words[:mid], " ")) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}

// IngestBatch runs descriptors through a bounded worker pool (default
// min(cpu_count, 4)), persisting a Batch Progress Record after each book so
// a crashed batch can resume. Per-book failures do not abort the batch.
func (o *Orchestrator) IngestBatch(ctx context.Context, progressPath string, input BatchInput) (BatchResult, error) {
	progress, err := loadProgress(progressPath)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	var resultMu sync.Mutex
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, o.cfg.WorkerCount)

	for _, desc := range input.Books {
		desc := desc
		key := desc.Source + "\x00" + desc.SourceID

		if input.Resume {
			m, err := o.manifestFor(desc.Collection)
			if err == nil && m.IsIngested(desc.Source, desc.SourceID) {
				resultMu.Lock()
				result.Skipped = append(result.Skipped, desc)
				resultMu.Unlock()
				continue
			}
			if progress.has(key) {
				resultMu.Lock()
				result.Skipped = append(result.Skipped, desc)
				resultMu.Unlock()
				continue
			}
		}

		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := o.IngestBook(gctx, desc)

			progressMu.Lock()
			if err != nil {
				progress.markFailed(key)
			} else {
				progress.markProcessed(key)
			}
			_ = saveProgress(progressPath, progress)
			progressMu.Unlock()

			resultMu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, Failure{Source: desc.Source, SourceID: desc.SourceID, Err: err})
			} else {
				result.Succeeded = append(result.Succeeded, res)
			}
			resultMu.Unlock()
			return nil // per-book failures never abort the batch
		})
	}

	_ = g.Wait()
	return result, nil
}
