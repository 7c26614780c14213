// Package kafka wraps the inbound order stream. Batches are fetched
// with explicit offsets: the group offset only advances after the
// ingestion loop confirms every order in the batch was WAL-committed
// or rejected.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MaxBatch int
	MaxWait  time.Duration
}

type Consumer struct {
	reader   *kafka.Reader
	maxBatch int
	maxWait  time.Duration
	logger   *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 256
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 250 * time.Millisecond
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10 * 1024 * 1024,
			MaxWait:  cfg.MaxWait,
		}),
		maxBatch: cfg.MaxBatch,
		maxWait:  cfg.MaxWait,
		logger:   logger,
	}
}

// FetchBatch blocks for the first message, then drains whatever else
// arrives within maxWait, up to the batch cap. Offsets are NOT
// committed here.
func (c *Consumer) FetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()
	for len(batch) < c.maxBatch {
		msg, err := c.reader.FetchMessage(drainCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			// Batch already holds fetched work; process it and let the
			// next fetch surface the failure.
			c.logger.Warn("batch drain interrupted", zap.Error(err))
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// Commit acknowledges the batch upstream. Call only after every order
// in the batch is durably accounted for.
func (c *Consumer) Commit(ctx context.Context, msgs []kafka.Message) error {
	return c.reader.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
