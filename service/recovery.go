package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keel/domain/event"
	"keel/domain/orderbook"
	"keel/infra/backoff"
	"keel/infra/outbox"
	"keel/infra/wal"
	"keel/snapshot"
)

// Recover rebuilds the in-memory book before the engine accepts any
// order: load the latest snapshot if present, then replay WAL entries
// past its sequence. Accepted and cancelled orders are re-applied;
// trade and book-update records are never re-matched, but their outbox
// rows are re-inserted when missing, which closes the crash window
// between a record's WAL append and its outbox write. Row appends
// dedup by event id, so rows that were committed or already published
// before the crash are left untouched and nothing double-publishes.
//
// Call once, before Start. On error the engine stays unready and
// rejects everything for its instrument; other instruments proceed.
func (e *Engine) Recover() error {
	snapSeq := uint64(0)

	snap, ok, err := snapshot.Load(e.cfg.SnapshotDir, e.cfg.InstrumentID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		if err := snapshot.Restore(snap, e.book, e.pool); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		snapSeq = snap.AsOfSeq
	}

	replayed := 0
	lastSeq, err := wal.Replay(e.cfg.WALDir, snapSeq, func(rec *wal.Record) error {
		switch rec.Type {
		case wal.EntryOrderAccepted:
			p, err := wal.DecodeOrder(rec.Data)
			if err != nil {
				return err
			}
			ov, err := p.Order()
			if err != nil {
				return err
			}
			ins, found := e.dir.Lookup(ov.InstrumentID)
			if !found {
				return fmt.Errorf("%w: %s in wal", ErrUnknownInstrument, ov.InstrumentID)
			}
			o := e.pool.Get()
			*o = ov
			res := e.book.Apply(o, orderbook.FeeRates{
				Maker: ins.MakerFeeRate,
				Taker: ins.TakerFeeRate,
			}, time.Unix(0, rec.Time))
			e.seen[ov.ID] = rec.Seq
			if !res.Resting {
				e.pool.Put(o)
			}
			replayed++

		case wal.EntryOrderCancelled:
			id, err := wal.DecodeCancel(rec.Data)
			if err != nil {
				return err
			}
			if _, err := e.book.Cancel(id); err != nil && !errors.Is(err, orderbook.ErrOrderNotFound) {
				return err
			}
			replayed++

		case wal.EntryTrade:
			if err := e.restoreOutboxRow(rec, event.TypeTradeExecuted); err != nil {
				return err
			}

		case wal.EntryBookUpdate:
			if err := e.restoreOutboxRow(rec, event.TypeOrderBookUpdated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}

	if lastSeq < snapSeq {
		lastSeq = snapSeq
	}
	e.seq.Reset(lastSeq)
	e.markReady()

	e.logger.Info("recovery complete",
		zap.Uint64("snapshot_seq", snapSeq),
		zap.Uint64("last_seq", lastSeq),
		zap.Int("replayed_inputs", replayed),
	)
	return nil
}

// restoreOutboxRow re-inserts the outbox row for a derived WAL record.
// The record's payload is the event exactly as it was first written,
// so a restored row is byte-identical to the one a crash lost.
func (e *Engine) restoreOutboxRow(rec *wal.Record, eventType string) error {
	row := &outbox.Row{
		EventID:       event.ID(e.cfg.InstrumentID, rec.Seq, eventType),
		AggregateType: event.AggregateInstrument,
		AggregateID:   e.cfg.InstrumentID,
		EventType:     eventType,
		Payload:       rec.Data,
		Seq:           rec.Seq,
	}
	if err := e.outbox.Append(row); err != nil {
		return fmt.Errorf("restore outbox row %s: %w", row.EventID, err)
	}
	return nil
}

// RecoverWithRetry keeps attempting recovery until it succeeds or ctx
// ends. Every attempt starts from an empty book, so a partial replay
// from a failed attempt is never built upon. The engine stays unready
// between attempts and rejects its instrument's orders.
func (e *Engine) RecoverWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		e.book.Clear()
		e.seq.Reset(0)
		clear(e.seen)

		err := e.Recover()
		if err == nil {
			return nil
		}

		delay := backoff.Delay(attempt)
		e.logger.Warn("recovery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("recovery abandoned: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
