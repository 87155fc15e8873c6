package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally .env),
// then layers a YAML file on top if CONFIG_FILE (or the default
// config.yaml in the working directory) is present. Env vars set defaults
// so an operator can run with no file at all; the YAML file, when present,
// overrides individual fields left non-zero in it.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.QdrantCollection = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_COLLECTION")), "books")
	cfg.IngestVersion = firstNonEmpty(strings.TrimSpace(os.Getenv("INGEST_VERSION")), "v1")
	cfg.ManifestDir = firstNonEmpty(strings.TrimSpace(os.Getenv("MANIFEST_DIR")), ".")

	cfg.Qdrant.Host = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_HOST")), "localhost")
	cfg.Qdrant.Port = intFromEnv("QDRANT_PORT", 6334)
	cfg.Qdrant.APIKey = strings.TrimSpace(os.Getenv("QDRANT_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("QDRANT_USE_TLS")); v != "" {
		cfg.Qdrant.UseTLS = isTrue(v)
	}

	cfg.Database.DSN = firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_URL")), strings.TrimSpace(os.Getenv("POSTGRES_DSN")))

	// Embedding service configuration via environment variables.
	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Path = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_PATH")), "/v1/embeddings")
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.APIHeader = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_API_HEADER")), "Authorization")
	cfg.Embedding.Dimension = intFromEnv("EMBED_DIMENSION", 1536)
	cfg.Embedding.Timeout = intFromEnv("EMBED_TIMEOUT", 30)
	if v := strings.TrimSpace(os.Getenv("EMBED_API_HEADERS")); v != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			cfg.Embedding.Headers = m
		} else {
			m = make(map[string]string)
			for _, p := range strings.Split(v, ",") {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				if kv := strings.SplitN(p, ":", 2); len(kv) == 2 {
					m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
			cfg.Embedding.Headers = m
		}
	}

	// S3/MinIO configuration, used by internal/objectstore for the optional
	// source-document backing store (spec.md's Non-goal on storage backend
	// choice does not exclude the extractor's own upstream object store).
	cfg.S3.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	cfg.S3.Region = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_REGION")), "us-east-1")
	cfg.S3.Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))
	cfg.S3.Prefix = strings.TrimSpace(os.Getenv("S3_PREFIX"))
	cfg.S3.AccessKey = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY"))
	cfg.S3.SecretKey = strings.TrimSpace(os.Getenv("S3_SECRET_KEY"))
	if v := strings.TrimSpace(os.Getenv("S3_USE_PATH_STYLE")); v != "" {
		cfg.S3.UsePathStyle = isTrue(v)
	}
	if v := strings.TrimSpace(os.Getenv("S3_TLS_INSECURE")); v != "" {
		cfg.S3.TLSInsecureSkipVerify = isTrue(v)
	}
	cfg.S3.SSE.Mode = strings.TrimSpace(os.Getenv("S3_SSE_MODE"))
	cfg.S3.SSE.KMSKeyID = strings.TrimSpace(os.Getenv("S3_SSE_KMS_KEY_ID"))

	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "alexandria")
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "development")
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	// Hierarchical retrieval/ingestion defaults (spec.md §4.9/§6).
	cfg.Hierarchy.Enabled = true
	if v := strings.TrimSpace(os.Getenv("HIERARCHY_ENABLED")); v != "" {
		cfg.Hierarchy.Enabled = isTrue(v)
	}
	cfg.Hierarchy.DefaultMode = firstNonEmpty(strings.TrimSpace(os.Getenv("HIERARCHY_DEFAULT_MODE")), "contextual")
	cfg.Hierarchy.SiblingWindow = intFromEnv("HIERARCHY_SIBLING_WINDOW", 2)
	cfg.Hierarchy.MaxContextTokens = intFromEnv("HIERARCHY_MAX_CONTEXT_TOKENS", 12000)
	cfg.Hierarchy.ParentMaxTokens = intFromEnv("HIERARCHY_PARENT_MAX_TOKENS", 2000)
	cfg.Hierarchy.ParentStoreFullText = true
	if v := strings.TrimSpace(os.Getenv("PARENT_STORE_FULL_TEXT")); v != "" {
		cfg.Hierarchy.ParentStoreFullText = isTrue(v)
	}
	cfg.Hierarchy.ChunkThreshold = floatFromEnv("CHUNK_THRESHOLD", 0.55)
	cfg.Hierarchy.ChunkMinSize = intFromEnv("CHUNK_MIN_SIZE", 200)
	cfg.Hierarchy.ChunkMaxSize = intFromEnv("CHUNK_MAX_SIZE", 1200)

	cfg.Chapter.DetectionStrategy = firstNonEmpty(strings.TrimSpace(os.Getenv("CHAPTER_DETECTION_STRATEGY")), "auto")
	cfg.Chapter.FallbackTokenCount = intFromEnv("CHAPTER_FALLBACK_TOKEN_COUNT", 5000)
	cfg.Chapter.MinSizeTokens = intFromEnv("CHAPTER_MIN_SIZE_TOKENS", 500)

	if v := strings.TrimSpace(os.Getenv("REDIS_ENABLED")); v != "" {
		cfg.Redis.Enabled = isTrue(v)
	}
	cfg.Redis.Addr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), "localhost:6379")
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	cfg.Redis.DB = intFromEnv("REDIS_DB", 0)
	if v := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE")); v != "" {
		cfg.Redis.TLSInsecureSkipVerify = isTrue(v)
	}
	cfg.Redis.TTLSeconds = intFromEnv("REDIS_CACHE_TTL_SECONDS", 300)

	cfg.ClickHouse.DSN = strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN"))
	cfg.ClickHouse.Database = strings.TrimSpace(os.Getenv("CLICKHOUSE_DATABASE"))
	cfg.ClickHouse.QueriesTable = firstNonEmpty(strings.TrimSpace(os.Getenv("CLICKHOUSE_QUERIES_TABLE")), "retrieval_queries")
	cfg.ClickHouse.TimeoutSeconds = intFromEnv("CLICKHOUSE_TIMEOUT_SECONDS", 5)

	if v := strings.TrimSpace(os.Getenv("KAFKA_ENABLED")); v != "" {
		cfg.Kafka.Enabled = isTrue(v)
	}
	cfg.Kafka.Brokers = firstNonEmpty(strings.TrimSpace(os.Getenv("KAFKA_BROKERS")), "localhost:9092")
	cfg.Kafka.Topic = firstNonEmpty(strings.TrimSpace(os.Getenv("KAFKA_EVENTS_TOPIC")), "alexandria.ingest_events")

	path := firstNonEmpty(strings.TrimSpace(os.Getenv("CONFIG_FILE")), "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
