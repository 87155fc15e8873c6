// Package events implements the Event Log (C10): an append-only sink for
// ingest lifecycle events, backed by the vector store's dedicated
// zero-vector collection so every host sharing a collection sees the same
// history. Writes are best-effort; a write failure is logged, never raised.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"alexandria/internal/persistence/databases"
	"alexandria/internal/rag/model"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// CollectionName is the dedicated events collection, shared across hosts
// (spec.md §6's persisted-state layout).
const CollectionName = "alexandria_events"

// eventVectorDim is a placeholder dimension for the zero-vector the events
// collection stores points under; events are never searched by similarity.
const eventVectorDim = 2

// Logger is the minimal logging sink events falls back to when a store
// write fails, matching internal/rag/obs's JSON-line convention.
type Logger interface {
	Error(msg string, fields map[string]any)
}

// Log is the C10 handle: a store-backed append-only sink with read APIs.
// recent()/stats() are served purely from the shared Qdrant collection via
// Scroll (see Recent/Stats below) so every host reading that collection
// sees the same history; kafka is an optional additional broadcast for
// consumers that want to react to events as they happen rather than poll.
type Log struct {
	store    databases.VectorStore
	hostname string
	logger   Logger
	kafka    *KafkaPublisher
}

// New constructs a Log writing into store's CollectionName collection.
// EnsureCollection is NOT called here — the caller (C8's process bootstrap)
// owns collection lifecycle, mirroring how book collections are ensured.
func New(store databases.VectorStore, logger Logger) *Log {
	host, _ := os.Hostname()
	return &Log{store: store, hostname: host, logger: logger}
}

// EnsureCollection creates the events collection if absent. Safe to call
// repeatedly; idempotent like every other EnsureCollection call.
func (l *Log) EnsureCollection(ctx context.Context) error {
	return l.store.EnsureCollection(ctx, CollectionName, eventVectorDim, "cosine")
}

// SetPublisher attaches the optional Kafka broadcast. A nil publisher (the
// default) leaves Emit writing only to the shared Qdrant collection.
func (l *Log) SetPublisher(p *KafkaPublisher) {
	l.kafka = p
}

// Emit writes one event, best-effort. A write failure is logged via l.logger
// (if set) and swallowed — the caller's ingest/query path never fails
// because the event log is unavailable.
func (l *Log) Emit(ctx context.Context, evt model.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Hostname == "" {
		evt.Hostname = l.hostname
	}

	payload, err := toPayload(evt)
	if err != nil {
		l.logFailure("marshal", evt, err)
		return
	}

	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(evt.ID)).String()
	err = l.store.Upsert(ctx, CollectionName, []databases.Point{
		{ID: pointID, Vector: make([]float32, eventVectorDim), Payload: payload},
	})
	if err != nil {
		l.logFailure("upsert", evt, err)
	}

	if err := l.kafka.Publish(ctx, evt); err != nil {
		l.logFailure("kafka_publish", evt, err)
	}
}

func (l *Log) logFailure(stage string, evt model.Event, err error) {
	if l.logger == nil {
		return
	}
	l.logger.Error("event log write failed", map[string]any{
		"stage":     stage,
		"event_type": string(evt.Type),
		"source":    evt.Source,
		"source_id": evt.SourceID,
		"error":     err.Error(),
	})
}

func toPayload(evt model.Event) (map[string]any, error) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"event_id":  evt.ID,
		"timestamp": evt.Timestamp.UTC().Format(timestampLayout),
		"hostname":  evt.Hostname,
		"type":      string(evt.Type),
		"source":    evt.Source,
		"source_id": evt.SourceID,
		"payload":   string(raw),
	}, nil
}

func fromPayload(p map[string]any) model.Event {
	var evt model.Event
	evt.ID, _ = p["event_id"].(string)
	evt.Hostname, _ = p["hostname"].(string)
	if t, ok := p["type"].(string); ok {
		evt.Type = model.EventType(t)
	}
	evt.Source, _ = p["source"].(string)
	evt.SourceID, _ = p["source_id"].(string)
	if ts, ok := p["timestamp"].(string); ok {
		if parsed, err := parseTimestamp(ts); err == nil {
			evt.Timestamp = parsed
		}
	}
	if raw, ok := p["payload"].(string); ok && raw != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			evt.Payload = payload
		}
	}
	return evt
}

// Recent returns up to limit events, most-recent first, optionally filtered
// by eventType.
func (l *Log) Recent(ctx context.Context, limit int, eventType string) ([]model.Event, error) {
	filter := databases.Filter{}
	if eventType != "" {
		filter.Must = append(filter.Must, databases.Eq("type", eventType))
	}
	const scrollOversample = 20
	payloads, err := l.store.Scroll(ctx, CollectionName, filter, limit*scrollOversample)
	if err != nil {
		return nil, fmt.Errorf("events: recent: %w", err)
	}
	out := make([]model.Event, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, fromPayload(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// History returns every event recorded for (source, sourceID), oldest first.
func (l *Log) History(ctx context.Context, source, sourceID string) ([]model.Event, error) {
	filter := databases.Filter{Must: []databases.Condition{
		databases.Eq("source", source),
		databases.Eq("source_id", sourceID),
	}}
	const maxHistory = 10000
	payloads, err := l.store.Scroll(ctx, CollectionName, filter, maxHistory)
	if err != nil {
		return nil, fmt.Errorf("events: history: %w", err)
	}
	out := make([]model.Event, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, fromPayload(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Stats aggregates ingest_complete events into collection-wide totals; it
// holds no per-book breakdown.
type Stats struct {
	IngestCompleteCount int
	TotalParents        int
	TotalChildren        int
}

// Stats scans ingest_complete events and aggregates their chunk counts.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	events, err := l.Recent(ctx, 100000, string(model.EventIngestComplete))
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, e := range events {
		s.IngestCompleteCount++
		if pc, ok := toInt(e.Payload["parent_count"]); ok {
			s.TotalParents += pc
		}
		if cc, ok := toInt(e.Payload["child_count"]); ok {
			s.TotalChildren += cc
		}
	}
	return s, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
