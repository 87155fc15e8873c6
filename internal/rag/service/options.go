package service

import (
	"time"

	"alexandria/internal/objectstore"
	"alexandria/internal/rag/analytics"
	"alexandria/internal/rag/events"
	"alexandria/internal/rag/retrievecache"
)

// Clock abstracts time to make stage timing testable.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Logger is a minimal structured logging interface, satisfied by
// *internal/rag/obs.JSONLogger.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// Metrics is satisfied by internal/rag/obs.OtelMetrics (production) and
// internal/rag/obs.MockMetrics (tests).
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// NoopMetrics implements Metrics without side effects.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)                {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// defaultLogger drops every log line; used when no Logger option is given.
type defaultLogger struct{}

func (defaultLogger) Info(string, map[string]any)  {}
func (defaultLogger) Error(string, map[string]any) {}
func (defaultLogger) Debug(string, map[string]any) {}

// Option configures a Service during construction.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets a custom clock implementation.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithDocumentStore lets IngestBookFromStore stage source documents from an
// object store (S3 or in-memory) before handing them to the extractor.
func WithDocumentStore(store objectstore.ObjectStore) Option {
	return func(s *Service) { s.docs = store }
}

// WithRetrieveCache sets a Redis-backed cache Retrieve consults before
// running the retrieval engine. A nil cache (retrievecache.New with
// RedisConfig.Enabled false) is accepted and leaves caching off.
func WithRetrieveCache(cache *retrievecache.Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithAnalytics sets a ClickHouse sink Retrieve logs query history to.
// A nil sink (analytics.New with an empty DSN) is accepted and leaves
// analytics off.
func WithAnalytics(sink *analytics.Sink) Option {
	return func(s *Service) { s.analytics = sink }
}

// WithEventBroadcast attaches a Kafka publisher the event log fans every
// Emit out to, in addition to its Qdrant write. A nil publisher
// (events.NewKafkaPublisher with KafkaConfig.Enabled false) leaves the
// event log's own collection as the only durable record.
func WithEventBroadcast(pub *events.KafkaPublisher) Option {
	return func(s *Service) { s.events.SetPublisher(pub) }
}

func ms(d time.Duration) int64 { return int64(d / time.Millisecond) }
