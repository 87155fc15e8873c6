package events

import (
	"testing"

	"alexandria/internal/config"
	"alexandria/internal/rag/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisherDisabledByDefault(t *testing.T) {
	pub, err := NewKafkaPublisher(config.KafkaConfig{})
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestNewKafkaPublisherRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{Enabled: true})
	assert.Error(t, err)
}

func TestNilKafkaPublisherIsANoop(t *testing.T) {
	var p *KafkaPublisher
	require.NoError(t, p.Publish(nil, model.Event{Type: model.EventIngestStart, Source: "library", SourceID: "1"}))
	require.NoError(t, p.Close())
}
