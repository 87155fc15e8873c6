// Command ragctl wires the RAG service (internal/rag/service) against real
// backends and exposes its operations as subcommands: bootstrap, ingest,
// batch, retrieve. It is the process that a deployment actually runs;
// internal/rag/service itself stays backend-agnostic so it can be embedded
// elsewhere (tests, other binaries) without dragging in Postgres/Qdrant/OTel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"alexandria/internal/config"
	"alexandria/internal/logging"
	"alexandria/internal/observability"
	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/analytics"
	"alexandria/internal/rag/catalog"
	"alexandria/internal/rag/embedder"
	"alexandria/internal/rag/events"
	"alexandria/internal/rag/extract"
	"alexandria/internal/rag/ingest"
	"alexandria/internal/rag/obs"
	"alexandria/internal/rag/retrieve"
	"alexandria/internal/rag/retrievecache"
	"alexandria/internal/rag/service"

	zlog "github.com/rs/zerolog/log"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ragctl <bootstrap|ingest|batch|retrieve> [flags]")
		os.Exit(2)
	}
	cmd := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		logging.Log.Fatalf("load config: %v", err)
	}

	// internal/logging's logrus output backs ragctl's own Fatalf/Warnf call
	// sites; observability.InitLogger additionally seeds the zerolog global
	// logger that observability.LoggerWithTrace returns, used below for the
	// fatal service-build error (trace-correlated once InitOTel has a span on
	// the context).
	observability.InitLogger("", os.Getenv("LOG_LEVEL"))

	ctx := context.Background()
	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			logging.Log.Warnf("otel disabled: %v", err)
		} else {
			defer shutdown(ctx)
			// Once a global OTLP log provider exists, fan zerolog's JSON
			// output out to it too, so observability.LoggerWithTrace lines
			// land in the same backend as the OTel traces/metrics.
			zlog.Logger = zlog.Logger.Output(io.MultiWriter(os.Stdout, observability.NewOTelWriter(cfg.Obs.ServiceName)))
		}
	}

	svc, err := buildService(ctx, cfg)
	if err != nil {
		observability.LoggerWithTrace(ctx).Fatal().Err(err).Msg("build service failed")
	}

	switch cmd {
	case "bootstrap":
		runBootstrap(ctx, svc, cfg)
	case "ingest":
		runIngest(ctx, svc)
	case "batch":
		runBatch(ctx, svc)
	case "retrieve":
		runRetrieve(ctx, svc)
	default:
		logging.Log.Fatalf("unknown subcommand %q", cmd)
	}
}

func buildService(ctx context.Context, cfg config.Config) (*service.Service, error) {
	scheme := "http"
	if cfg.Qdrant.UseTLS {
		scheme = "https"
	}
	dsn := fmt.Sprintf("%s://%s:%d", scheme, cfg.Qdrant.Host, cfg.Qdrant.Port)
	if cfg.Qdrant.APIKey != "" {
		dsn += "?api_key=" + cfg.Qdrant.APIKey
	}
	store, err := databases.NewQdrantVector(dsn)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	emb := embedder.NewHTTP(embedder.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Path:      cfg.Embedding.Path,
		APIKey:    cfg.Embedding.APIKey,
		APIHeader: cfg.Embedding.APIHeader,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	extractor := extract.New(nil)

	var resolver ingest.MetadataResolver
	if cfg.Database.DSN != "" {
		pool, err := databases.OpenPool(ctx, cfg.Database.DSN)
		if err != nil {
			logging.Log.Warnf("catalog disabled, book metadata will fall back to inline defaults: %v", err)
		} else {
			resolver = catalog.New(pool)
		}
	}

	metrics := obs.NewOtelMetrics()
	svcOpts := []service.Option{service.WithMetrics(metrics)}

	cache, err := retrievecache.New(cfg.Redis, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
	if err != nil {
		logging.Log.Warnf("retrieve cache disabled: %v", err)
	} else if cache != nil {
		svcOpts = append(svcOpts, service.WithRetrieveCache(cache))
	}

	sink, err := analytics.New(ctx, cfg.ClickHouse)
	if err != nil {
		logging.Log.Warnf("query analytics disabled: %v", err)
	} else if sink != nil {
		svcOpts = append(svcOpts, service.WithAnalytics(sink))
	}

	kpub, err := events.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		logging.Log.Warnf("event kafka broadcast disabled: %v", err)
	} else if kpub != nil {
		svcOpts = append(svcOpts, service.WithEventBroadcast(kpub))
	}

	svc := service.New(store, emb, extractor, resolver, cfg, svcOpts...)
	return svc, nil
}

func runBootstrap(ctx context.Context, svc *service.Service, cfg config.Config) {
	if err := svc.Bootstrap(ctx, "", cfg.Embedding.Dimension, "cosine"); err != nil {
		logging.Log.Fatalf("bootstrap: %v", err)
	}
	logging.Log.Info("collections ready")
}

func runIngest(ctx context.Context, svc *service.Service) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "", "book source identifier")
	sourceID := fs.String("source-id", "", "book source id")
	path := fs.String("path", "", "path to the source document")
	format := fs.String("format", "", "epub|pdf|txt|md|html, inferred from path if empty")
	collection := fs.String("collection", "", "target collection, defaults to the configured one")
	domain := fs.String("domain", "", "book domain/subject tag")
	fs.Parse(os.Args[2:])

	if *source == "" || *path == "" {
		logging.Log.Fatalf("ingest requires -source and -path")
	}
	res, err := svc.IngestBook(ctx, ingest.BookDescriptor{
		Source: *source, SourceID: *sourceID, Path: *path, Format: *format,
		Domain: *domain, Collection: *collection,
	})
	if err != nil {
		logging.Log.Fatalf("ingest: %v", err)
	}
	printJSON(res)
}

func runBatch(ctx context.Context, svc *service.Service) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "path to a JSON array of ingest.BookDescriptor")
	resume := fs.Bool("resume", true, "skip books already recorded as succeeded")
	fs.Parse(os.Args[2:])

	if *manifestPath == "" {
		logging.Log.Fatalf("batch requires -manifest")
	}
	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		logging.Log.Fatalf("read manifest: %v", err)
	}
	var books []ingest.BookDescriptor
	if err := json.Unmarshal(raw, &books); err != nil {
		logging.Log.Fatalf("parse manifest: %v", err)
	}

	res, err := svc.IngestBatch(ctx, ingest.BatchInput{Books: books, Resume: *resume})
	if err != nil {
		logging.Log.Fatalf("batch: %v", err)
	}
	printJSON(res)
}

func runRetrieve(ctx context.Context, svc *service.Service) {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	query := fs.String("query", "", "search text")
	collection := fs.String("collection", "", "collection to search, defaults to the configured one")
	mode := fs.String("mode", "", "precise|contextual|comprehensive")
	limit := fs.Int("limit", 5, "number of child chunks to return")
	fs.Parse(os.Args[2:])

	if *query == "" {
		logging.Log.Fatalf("retrieve requires -query")
	}
	res, err := svc.Retrieve(ctx, *query, *collection, retrieve.Options{
		Limit: *limit, ContextMode: retrieve.ContextMode(*mode),
	})
	if err != nil {
		logging.Log.Fatalf("retrieve: %v", err)
	}
	printJSON(res)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logging.Log.Fatalf("encode result: %v", err)
	}
}
