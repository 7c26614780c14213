package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"keel/snapshot"
)

// SnapshotJob periodically captures every ready engine's book and
// truncates the WAL prefix each successful snapshot supersedes.
// Snapshot or truncation failures never block matching: the prior
// snapshot stays authoritative and the WAL prefix is kept.
type SnapshotJob struct {
	router   *Router
	writer   *snapshot.Writer
	interval time.Duration
	logger   *zap.Logger
}

func NewSnapshotJob(router *Router, writer *snapshot.Writer, interval time.Duration, logger *zap.Logger) *SnapshotJob {
	return &SnapshotJob{
		router:   router,
		writer:   writer,
		interval: interval,
		logger:   logger,
	}
}

func (j *SnapshotJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SnapshotJob) runOnce(ctx context.Context) {
	for _, e := range j.router.Engines() {
		if !e.Ready() {
			continue
		}

		snap, err := e.CaptureSnapshot(ctx)
		if err != nil {
			j.logger.Warn("snapshot capture failed",
				zap.String("instrument", e.InstrumentID()), zap.Error(err))
			continue
		}

		if err := j.writer.Write(snap); err != nil {
			// Prior snapshot remains authoritative; WAL is not touched.
			j.logger.Error("snapshot write failed",
				zap.String("instrument", e.InstrumentID()), zap.Error(err))
			continue
		}

		if err := e.TruncateWAL(ctx, snap.AsOfSeq); err != nil {
			// Retried next cycle; keeping a stale prefix beats losing data.
			j.logger.Warn("wal truncation failed",
				zap.String("instrument", e.InstrumentID()),
				zap.Uint64("upto_seq", snap.AsOfSeq), zap.Error(err))
			continue
		}

		j.logger.Info("snapshot written",
			zap.String("instrument", e.InstrumentID()),
			zap.Uint64("as_of_seq", snap.AsOfSeq),
			zap.Int("resting_orders", len(snap.Orders)),
		)
	}
}
