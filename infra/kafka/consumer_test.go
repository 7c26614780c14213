package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConsumerDefaults(t *testing.T) {
	c := NewConsumer(ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "orders.created",
		GroupID: "keel-matching",
	}, zap.NewNop())
	require.NotNil(t, c)
	defer c.Close()

	assert.Equal(t, 256, c.maxBatch)
	assert.Equal(t, 250*time.Millisecond, c.maxWait)
}

func TestNewConsumerHonorsConfig(t *testing.T) {
	c := NewConsumer(ConsumerConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "orders.created",
		GroupID:  "keel-matching",
		MaxBatch: 32,
		MaxWait:  time.Second,
	}, zap.NewNop())
	defer c.Close()

	assert.Equal(t, 32, c.maxBatch)
	assert.Equal(t, time.Second, c.maxWait)
}
