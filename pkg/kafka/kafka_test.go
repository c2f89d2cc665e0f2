package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestNewClient(t *testing.T) {
	c := NewClient(" kafka-1:9092, ,kafka-2:9092 ")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Brokers)
	assert.True(t, c.Enabled())
	assert.False(t, NewClient("").Enabled())

	w := c.NewWriter("medstore.orders")
	assert.Equal(t, "medstore.orders", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestPublishJSON(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, PublishJSON(context.Background(), w, "order-7", map[string]any{"type": "newOrder"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-7", string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "newOrder", got["type"])

	assert.Error(t, PublishJSON(context.Background(), w, "k", make(chan int)))
}

func TestNewReaderStartsAtOldest(t *testing.T) {
	r := NewClient("kafka-1:9092").NewReader("medstore.orders", "notification-service")
	defer func() { _ = r.Close() }()
	cfg := r.Config()
	assert.Equal(t, kafka.FirstOffset, cfg.StartOffset)
	assert.Equal(t, "notification-service", cfg.GroupID)
}
