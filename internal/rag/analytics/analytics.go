// Package analytics records retrieval query history to ClickHouse for
// offline analysis (query volume, latency distribution, mode mix over
// time). It is a write-only, best-effort sink, distinct from C10's
// events.Log: events.Log is the Qdrant-backed ingest lifecycle ledger
// every Service relies on to resume batches, analytics is an optional
// column-store projection of retrieval traffic nothing else depends on.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"alexandria/internal/config"
)

// Sink writes retrieval query records to ClickHouse. A nil *Sink is valid
// and every method becomes a no-op, matching retrievecache.Cache's pattern
// for optional collaborators.
type Sink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// QueryRecord is one retrieval call, as logged for analytics.
type QueryRecord struct {
	Timestamp   time.Time
	Collection  string
	Query       string
	Mode        string
	Limit       int
	ResultCount int
	LatencyMs   int64
	CacheHit    bool
}

// New opens a ClickHouse connection and ensures the queries table exists.
// Returns a nil *Sink, nil error when cfg.DSN is empty.
func New(ctx context.Context, cfg config.ClickHouseConfig) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("analytics: open: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	table := cfg.QueriesTable
	if table == "" {
		table = "retrieval_queries"
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(ctxTimeout); err != nil {
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}

	s := &Sink{conn: conn, table: table, timeout: timeout}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts          DateTime64(3),
		collection  String,
		query       String,
		mode        String,
		limit       UInt32,
		result_count UInt32,
		latency_ms  UInt64,
		cache_hit   UInt8
	) ENGINE = MergeTree() ORDER BY (collection, ts)`, s.table)
	return s.conn.Exec(ctxTimeout, ddl)
}

// Record inserts one QueryRecord, best-effort; failures are returned to the
// caller to log but never block retrieval.
func (s *Sink) Record(ctx context.Context, rec QueryRecord) error {
	if s == nil || s.conn == nil {
		return nil
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, collection, query, mode, limit, result_count, latency_ms, cache_hit) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	cacheHit := uint8(0)
	if rec.CacheHit {
		cacheHit = 1
	}
	return s.conn.Exec(ctxTimeout, query, rec.Timestamp, rec.Collection, rec.Query, rec.Mode, uint32(rec.Limit), uint32(rec.ResultCount), uint64(rec.LatencyMs), cacheHit)
}

// Close releases the underlying ClickHouse connection.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
