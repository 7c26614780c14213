package service

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"keel/domain/orderbook"
	"keel/infra/backoff"
	"keel/infra/memory"
)

// BatchSource is the inbound queue: fetch a batch without advancing
// the upstream offset, then commit once the batch is accounted for.
type BatchSource interface {
	FetchBatch(ctx context.Context) ([]kafka.Message, error)
	Commit(ctx context.Context, msgs []kafka.Message) error
}

// Ingestor drives the inbound loop. The whole batch is committed only
// after every order in it was WAL-committed or explicitly rejected —
// the offset never advances past unpersisted work. A rejection of one
// order does not roll back its batch; outcomes are per-order.
type Ingestor struct {
	src    BatchSource
	router *Router
	pool   *memory.Pool[orderbook.Order]
	logger *zap.Logger
}

func NewIngestor(src BatchSource, router *Router, pool *memory.Pool[orderbook.Order], logger *zap.Logger) *Ingestor {
	return &Ingestor{src: src, router: router, pool: pool, logger: logger}
}

func (in *Ingestor) Run(ctx context.Context) error {
	fetchFailures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := in.src.FetchBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			delay := backoff.Delay(fetchFailures)
			fetchFailures++
			in.logger.Warn("fetch batch failed", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		fetchFailures = 0

		if err := in.processBatch(ctx, msgs); err != nil {
			return err
		}
	}
}

func (in *Ingestor) processBatch(ctx context.Context, msgs []kafka.Message) error {
	var accepted, rejected int

	for _, msg := range msgs {
		o, err := decodeOrderMessage(msg.Value, in.pool)
		if err != nil {
			rejected++
			in.logger.Warn("malformed order message dropped",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}

		// Dispatch may recycle the order into the pool; nothing on it
		// can be read afterwards.
		orderID := o.ID
		report, err := in.router.Dispatch(ctx, o)
		switch {
		case err == nil && report.Status != orderbook.StatusRejected:
			accepted++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Shutdown mid-batch: do not commit, the batch redelivers.
			return err
		default:
			rejected++
			if err != nil {
				in.logger.Warn("order rejected",
					zap.String("order_id", orderID.String()), zap.Error(err))
			}
		}
	}

	if err := in.src.Commit(ctx, msgs); err != nil {
		// The batch redelivers; engines skip duplicate order ids.
		in.logger.Error("batch commit failed", zap.Error(err))
		return nil
	}

	in.logger.Info("batch processed",
		zap.Int("orders", len(msgs)),
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
	)
	return nil
}
