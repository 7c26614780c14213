// Package publisher drains the outbox to the message broker. Rows are
// sent in sequence order per instrument and marked published only
// after broker acknowledgment, so the channel is at-least-once with
// consumer-side dedup by event id — never lossy.
package publisher

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"keel/domain/event"
	"keel/infra/outbox"
)

const headerEventID = "event-id"

type Config struct {
	Brokers     []string
	TradesTopic string
	BookTopic   string
	Interval    time.Duration
	Retention   time.Duration
}

type Publisher struct {
	store    *outbox.Store
	producer sarama.SyncProducer
	cfg      Config
	logger   *zap.Logger

	ownsProducer bool
}

// New builds a publisher with an idempotent sync producer: full-ISR
// acks, one in-flight request, so broker-side retries cannot reorder
// or duplicate within a partition.
func New(store *outbox.Store, cfg Config, logger *zap.Logger) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	p := NewWithProducer(store, producer, cfg, logger)
	p.ownsProducer = true
	return p, nil
}

// NewWithProducer wires an externally owned producer (tests use the
// sarama mock).
func NewWithProducer(store *outbox.Store, producer sarama.SyncProducer, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Publisher{
		store:    store,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var lastPurge time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.DrainOnce()

			if p.cfg.Retention > 0 && time.Since(lastPurge) > p.cfg.Retention/2 {
				lastPurge = time.Now()
				if n, err := p.store.PurgePublishedBefore(time.Now().Add(-p.cfg.Retention)); err != nil {
					p.logger.Warn("outbox purge failed", zap.Error(err))
				} else if n > 0 {
					p.logger.Info("outbox purged", zap.Int("rows", n))
				}
			}
		}
	}
}

// DrainOnce publishes every unpublished row it can. A send failure
// leaves the row unpublished; the next tick retries it. Rows found in
// SENT state are crash leftovers (committed, ack unknown) — they are
// re-sent, and the consumer dedups by event id.
func (p *Publisher) DrainOnce() {
	err := p.store.ScanUnpublished(func(row *outbox.Row) error {
		if err := p.store.MarkSent(row); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: p.topicFor(row),
			Key:   sarama.StringEncoder(row.AggregateID),
			Value: sarama.ByteEncoder(row.Payload),
			Headers: []sarama.RecordHeader{{
				Key:   []byte(headerEventID),
				Value: []byte(row.EventID),
			}},
		}

		if _, _, err := p.producer.SendMessage(msg); err != nil {
			p.logger.Warn("publish failed, will retry",
				zap.String("event_id", row.EventID),
				zap.Uint32("retries", row.Retries),
				zap.Error(err))
			return nil
		}

		return p.store.MarkPublished(row)
	})
	if err != nil {
		p.logger.Error("outbox drain failed", zap.Error(err))
	}
}

func (p *Publisher) topicFor(row *outbox.Row) string {
	if row.EventType == event.TypeTradeExecuted {
		return p.cfg.TradesTopic
	}
	return p.cfg.BookTopic
}

func (p *Publisher) Close() error {
	if p.ownsProducer {
		return p.producer.Close()
	}
	return nil
}
