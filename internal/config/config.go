package config

// EmbeddingConfig describes the embedding HTTP endpoint used by C4
// (internal/rag/embedder) and cmd/embedctl.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Path      string            `yaml:"path"`
	APIKey    string            `yaml:"api_key"`
	APIHeader string            `yaml:"api_header"`
	Model     string            `yaml:"model"`
	Dimension int               `yaml:"dimension"`
	Timeout   int               `yaml:"timeout_seconds"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// S3SSEConfig controls server-side encryption for objectstore.S3Store.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// S3Config configures objectstore.S3Store.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint,omitempty"`
	AccessKey             string      `yaml:"access_key,omitempty"`
	SecretKey             string      `yaml:"secret_key,omitempty"`
	Prefix                string      `yaml:"prefix,omitempty"`
	UsePathStyle          bool        `yaml:"use_path_style,omitempty"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig `yaml:"sse,omitempty"`
}

// ObsConfig configures OpenTelemetry export (internal/observability).
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLP           string `yaml:"otlp_endpoint"`
}

// QdrantConfig configures the vector store connection (C6).
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
}

// HierarchyConfig holds the retrieval/ingestion defaults spec.md §6
// exposes as tunables (C5/C8/C9).
type HierarchyConfig struct {
	Enabled               bool    `yaml:"enabled"`
	DefaultMode           string  `yaml:"default_mode"`
	SiblingWindow         int     `yaml:"sibling_window"`
	MaxContextTokens      int     `yaml:"max_context_tokens"`
	ParentMaxTokens       int     `yaml:"parent_max_tokens"`
	ParentStoreFullText   bool    `yaml:"parent_store_full_text"`
	ChunkThreshold        float64 `yaml:"chunk_threshold"`
	ChunkMinSize          int     `yaml:"chunk_min_size"`
	ChunkMaxSize          int     `yaml:"chunk_max_size"`
}

// ChapterConfig configures C2's chapter detection (spec.md §4.2).
type ChapterConfig struct {
	DetectionStrategy   string `yaml:"detection_strategy"`
	FallbackTokenCount  int    `yaml:"fallback_token_count"`
	MinSizeTokens       int    `yaml:"min_size_tokens"`
}

// DatabaseConfig holds the Postgres catalog DSN (C11).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ClickHouseConfig configures the optional analytics sink
// (internal/rag/analytics) that records retrieval query history for
// offline analysis. Disabled when DSN is empty.
type ClickHouseConfig struct {
	DSN            string `yaml:"dsn"`
	Database       string `yaml:"database,omitempty"`
	QueriesTable   string `yaml:"queries_table"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RedisConfig configures the optional retrieval result cache
// (internal/rag/retrievecache). Disabled by default; retrieval works
// identically without it, just without the cache-hit short-circuit.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password,omitempty"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify,omitempty"`
	TTLSeconds            int    `yaml:"ttl_seconds"`
}

// KafkaConfig configures the optional event-log broadcast publisher
// (internal/rag/events.KafkaPublisher). Disabled by default; the event log
// works identically without it, just without a cross-host/async fan-out of
// ingest lifecycle events beyond the shared Qdrant collection.
type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// Config is the root configuration for the RAG library core.
type Config struct {
	QdrantCollection string          `yaml:"qdrant_collection"`
	IngestVersion    string          `yaml:"ingest_version"`
	ManifestDir      string          `yaml:"manifest_dir"`

	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	S3        S3Config        `yaml:"s3,omitempty"`
	Obs       ObsConfig       `yaml:"otel"`
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
	Chapter   ChapterConfig   `yaml:"chapter"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse,omitempty"`
	Kafka      KafkaConfig      `yaml:"kafka,omitempty"`
}
