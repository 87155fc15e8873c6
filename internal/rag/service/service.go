// Package service wires C1-C11 into the high-level RAG operations a caller
// actually wants: ingest a book, ingest a batch, and retrieve. It owns the
// collection-name and manifest-path conventions (spec.md §6) that the
// lower packages intentionally leave to their caller.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"alexandria/internal/config"
	"alexandria/internal/objectstore"
	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/chapters"
	"alexandria/internal/rag/chunker"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/events"
	"alexandria/internal/rag/extract"
	"alexandria/internal/rag/ingest"
	"alexandria/internal/rag/manifest"
	"alexandria/internal/rag/analytics"
	"alexandria/internal/rag/model"
	"alexandria/internal/rag/retrieve"
	"alexandria/internal/rag/retrievecache"
)

// Service provides the high-level RAG operations backed by a VectorStore,
// an Embedder, and the C7-C11 supporting packages.
type Service struct {
	store      databases.VectorStore
	orch       *ingest.Orchestrator
	eng        *retrieve.Engine
	events     *events.Log
	collection string
	manifestDir string

	log     Logger
	metrics Metrics
	clock   Clock
	docs      objectstore.ObjectStore
	cache     *retrievecache.Cache
	analytics *analytics.Sink
}

// New constructs a Service. extractor may be nil (extract.New(nil), no S3
// backing). resolver may be nil if book metadata always travels inline on
// BookDescriptor.
func New(store databases.VectorStore, emb embedder.Embedder, extractor extract.Extractor, resolver ingest.MetadataResolver, cfg config.Config, opts ...Option) *Service {
	if extractor == nil {
		extractor = extract.New(nil)
	}

	evt := events.New(store, nil)
	manifestDir := cfg.ManifestDir
	if manifestDir == "" {
		manifestDir = "."
	}
	loadManifest := func(collection string) (*manifest.Manifest, error) {
		return manifest.Load(filepath.Join(manifestDir, collection+"_manifest.json"))
	}

	orchCfg := ingest.Config{
		IngestVersion:       cfg.IngestVersion,
		EmbeddingDimension:  cfg.Embedding.Dimension,
		ParentMaxTokens:     cfg.Hierarchy.ParentMaxTokens,
		ParentStoreFullText: cfg.Hierarchy.ParentStoreFullText,
		ChapterParams: chapters.Params{
			FallbackTokenCount: cfg.Chapter.FallbackTokenCount,
			MinSizeTokens:      cfg.Chapter.MinSizeTokens,
		},
		ChunkParams: chunker.Params{
			Threshold:    cfg.Hierarchy.ChunkThreshold,
			MinChunkSize: cfg.Hierarchy.ChunkMinSize,
			MaxChunkSize: cfg.Hierarchy.ChunkMaxSize,
		},
	}

	orch := ingest.New(extractor, emb, store, evt, resolver, orchCfg, loadManifest)
	eng := retrieve.New(store, emb)

	s := &Service{
		store:       store,
		orch:        orch,
		eng:         eng,
		events:      evt,
		collection:  cfg.QdrantCollection,
		manifestDir: manifestDir,
		log:         defaultLogger{},
		metrics:     NoopMetrics{},
		clock:       SystemClock{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Bootstrap brings up the collections this service depends on: the target
// book collection and the shared event log collection. Call once at
// process start.
func (s *Service) Bootstrap(ctx context.Context, collection string, dimension int, metric string) error {
	collection, err := s.resolveCollection(collection)
	if err != nil {
		return err
	}
	if err := s.store.EnsureCollection(ctx, collection, dimension, metric); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if err := s.store.EnsurePayloadIndexes(ctx, collection, databases.PayloadIndexes{
		"chunk_level": "keyword", "source": "keyword", "source_id": "keyword",
		"parent_id": "keyword", "sequence_index": "integer",
	}); err != nil {
		return fmt.Errorf("ensure payload indexes: %w", err)
	}
	if err := s.events.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure events collection: %w", err)
	}
	return nil
}

// IngestBook ingests a single book into collection (or the Service's
// default collection if desc.Collection is empty), with per-stage timing
// reported to Metrics.
func (s *Service) IngestBook(ctx context.Context, desc ingest.BookDescriptor) (ingest.Result, error) {
	collection, err := s.resolveCollection(desc.Collection)
	if err != nil {
		return ingest.Result{}, err
	}
	desc.Collection = collection
	start := s.clock.Now()
	s.metrics.IncCounter("ingestion_books_total", map[string]string{"collection": desc.Collection})

	res, err := s.orch.IngestBook(ctx, desc)
	dur := s.clock.Now().Sub(start)
	labels := map[string]string{"collection": desc.Collection}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(res.Durations.ExtractMs), mergeStage(labels, "extract"))
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(res.Durations.ChapterMs), mergeStage(labels, "chapter"))
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(res.Durations.ChunkMs), mergeStage(labels, "chunk"))
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(res.Durations.EmbedMs), mergeStage(labels, "embed"))
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(res.Durations.UploadMs), mergeStage(labels, "upload"))
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(dur)), mergeStage(labels, "total"))

	if err != nil {
		s.log.Error("ingest book failed", map[string]any{"source": desc.Source, "source_id": desc.SourceID, "error": err.Error()})
		return ingest.Result{}, err
	}
	s.log.Info("ingest book complete", map[string]any{
		"source": desc.Source, "source_id": desc.SourceID,
		"parent_count": res.ParentCount, "child_count": res.ChildCount, "strategy": res.Strategy,
	})
	return res, nil
}

// IngestBookFromStore fetches the source document at key from the
// configured ObjectStore (S3 or in-memory), stages it to a temp file, and
// ingests it. Requires WithDocumentStore at construction.
func (s *Service) IngestBookFromStore(ctx context.Context, key string, desc ingest.BookDescriptor) (ingest.Result, error) {
	if s.docs == nil {
		return ingest.Result{}, ErrNoDocumentStore
	}
	rc, attrs, err := s.docs.Get(ctx, key)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("fetch document %q: %w", key, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "alexandria-src-*"+filepath.Ext(attrs.Key))
	if err != nil {
		return ingest.Result{}, fmt.Errorf("stage document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		return ingest.Result{}, fmt.Errorf("stage document %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return ingest.Result{}, fmt.Errorf("stage document %q: %w", key, err)
	}

	desc.Path = tmp.Name()
	return s.IngestBook(ctx, desc)
}

// IngestBatch ingests many books with bounded worker parallelism and
// resumable progress (spec.md §4.8's batch mode).
func (s *Service) IngestBatch(ctx context.Context, input ingest.BatchInput) (ingest.BatchResult, error) {
	collection := s.collection
	for i := range input.Books {
		bookCollection, err := s.resolveCollection(input.Books[i].Collection)
		if err != nil {
			return ingest.BatchResult{}, err
		}
		input.Books[i].Collection = bookCollection
		collection = bookCollection
	}
	if collection == "" {
		return ingest.BatchResult{}, ErrCollectionRequired
	}
	progressPath := ingest.ProgressPath(s.manifestDir, collection)

	start := s.clock.Now()
	res, err := s.orch.IngestBatch(ctx, progressPath, input)
	dur := s.clock.Now().Sub(start)
	labels := map[string]string{"collection": collection}
	s.metrics.ObserveHistogram("ingestion_batch_ms", float64(ms(dur)), labels)
	if err != nil {
		s.log.Error("ingest batch failed", map[string]any{"error": err.Error()})
		return ingest.BatchResult{}, err
	}
	s.metrics.IncCounter("ingestion_batch_succeeded_total", labels)
	s.log.Info("ingest batch complete", map[string]any{
		"succeeded": len(res.Succeeded), "failed": len(res.Failed), "skipped": len(res.Skipped),
	})
	return res, nil
}

// Retrieve executes the hierarchical retrieval pipeline (C9) against
// collection (or the Service's default), with per-request timing.
func (s *Service) Retrieve(ctx context.Context, query, collection string, opts retrieve.Options) (retrieve.Result, error) {
	collection, err := s.resolveCollection(collection)
	if err != nil {
		return retrieve.Result{}, err
	}
	start := s.clock.Now()
	s.metrics.IncCounter("retrieval_queries_total", map[string]string{"collection": collection})

	cacheKey := retrievecache.Key(collection, query, opts)
	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		s.metrics.IncCounter("retrieval_cache_hits_total", map[string]string{"collection": collection})
		s.recordAnalytics(ctx, query, collection, opts, cached, ms(s.clock.Now().Sub(start)), true)
		return cached, nil
	}

	res, err := s.eng.Retrieve(ctx, query, collection, opts)
	dur := s.clock.Now().Sub(start)
	labels := map[string]string{"collection": collection, "mode": string(opts.ContextMode)}
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(res.Stats.ChildSearchMs), mergeStage(labels, "child_search"))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(res.Stats.ParentFetchMs), mergeStage(labels, "parent_fetch"))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(res.Stats.SiblingFetchMs), mergeStage(labels, "sibling_fetch"))
	s.metrics.ObserveHistogram("retrieval_stage_ms", float64(ms(dur)), mergeStage(labels, "total"))
	if err != nil {
		s.log.Error("retrieve failed", map[string]any{"collection": collection, "error": err.Error()})
		return retrieve.Result{}, err
	}
	if err := s.cache.Set(ctx, cacheKey, res); err != nil {
		s.log.Debug("retrieve cache set failed", map[string]any{"collection": collection, "error": err.Error()})
	}
	s.recordAnalytics(ctx, query, collection, opts, res, ms(dur), false)
	return res, nil
}

func (s *Service) recordAnalytics(ctx context.Context, query, collection string, opts retrieve.Options, res retrieve.Result, latencyMs int64, cacheHit bool) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.Record(ctx, analytics.QueryRecord{
		Timestamp:   s.clock.Now(),
		Collection:  collection,
		Query:       query,
		Mode:        string(opts.ContextMode),
		Limit:       opts.Limit,
		ResultCount: len(res.Children),
		LatencyMs:   latencyMs,
		CacheHit:    cacheHit,
	}); err != nil {
		s.log.Debug("analytics record failed", map[string]any{"collection": collection, "error": err.Error()})
	}
}

// ManifestEntries lists every book logged for collection (or the Service's
// default), for catalog/admin surfaces.
func (s *Service) ManifestEntries(collection string) ([]model.ManifestEntry, error) {
	collection, err := s.resolveCollection(collection)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(filepath.Join(s.manifestDir, collection+"_manifest.json"))
	if err != nil {
		return nil, err
	}
	return m.Entries(), nil
}

// EventHistory returns the append-only ingest history for one book.
func (s *Service) EventHistory(ctx context.Context, source, sourceID string) ([]model.Event, error) {
	return s.events.History(ctx, source, sourceID)
}

func (s *Service) resolveCollection(collection string) (string, error) {
	if collection != "" {
		return collection, nil
	}
	if s.collection != "" {
		return s.collection, nil
	}
	return "", ErrCollectionRequired
}

func mergeStage(labels map[string]string, stage string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out["stage"] = stage
	return out
}

