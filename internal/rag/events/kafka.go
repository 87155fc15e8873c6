package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"alexandria/internal/config"
	"alexandria/internal/rag/model"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher fans Log.Emit events out to a Kafka topic, giving
// multi-host consumers (indexers, dashboards, alerting) a durable broadcast
// of ingest lifecycle events beyond polling the shared events collection.
// A nil *KafkaPublisher is a valid, inert no-op, matching the nil-receiver
// pattern internal/rag/retrievecache.Cache already uses for its own
// optional backend.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher when cfg.Enabled, otherwise returns
// (nil, nil) so callers can pass the result straight to SetPublisher.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Brokers == "" || cfg.Topic == "" {
		return nil, errors.New("events: kafka enabled but brokers/topic not set")
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes evt to the configured topic. Safe to call on a nil
// receiver.
func (p *KafkaPublisher) Publish(ctx context.Context, evt model.Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.SourceID), Value: payload, Time: time.Now()})
}

// Close shuts down the underlying writer. Safe to call on a nil receiver.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
