package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"keel/api/admin"
	"keel/config"
	"keel/domain/instrument"
	"keel/domain/orderbook"
	"keel/infra/kafka"
	"keel/infra/memory"
	"keel/infra/outbox"
	"keel/infra/sequence"
	"keel/infra/wal"
	"keel/jobs/publisher"
	"keel/service"
	"keel/snapshot"
)

func main() {
	cfg := config.MustLoad()

	logger := zap.Must(zap.NewProduction())
	if cfg.Env == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Instrument directory ----------------
	// Recovery needs fee parameters, so boot blocks until it loads.

	dir := instrument.NewDirectory(logger)
	loader := instrument.NewLoader(cfg.Instruments.URL, dir, logger)
	if err := loader.RefreshWithRetry(ctx); err != nil {
		logger.Fatal("instrument directory load failed", zap.Error(err))
	}

	// ---------------- Outbox ----------------

	ob, err := outbox.Open(cfg.Storage.OutboxDir, logger)
	if err != nil {
		logger.Fatal("outbox open failed", zap.Error(err))
	}
	defer ob.Close()

	// ---------------- Engines ----------------
	// One WAL, book, and sequencer per instrument. An instrument whose
	// recovery fails stays registered but unready: it rejects orders
	// while the rest of the service proceeds.

	pool := memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} })
	router := service.NewRouter(logger)

	for _, ins := range dir.All() {
		walDir := filepath.Join(cfg.Storage.WALDir, ins.ID)
		w, err := wal.Open(wal.Config{Dir: walDir, SegmentSize: cfg.Storage.WALSegmentSize})
		if err != nil {
			logger.Error("wal open failed, instrument out of service",
				zap.String("instrument", ins.ID), zap.Error(err))
			continue
		}

		eng := service.NewEngine(
			service.EngineConfig{
				InstrumentID: ins.ID,
				WALDir:       walDir,
				SnapshotDir:  cfg.Storage.SnapshotDir,
				DepthLevels:  cfg.Engine.DepthLevels,
			},
			orderbook.NewBook(pool),
			dir,
			w,
			ob,
			sequence.New(0),
			pool,
			logger,
		)

		if err := eng.Recover(); err != nil {
			logger.Error("recovery failed, retrying in background",
				zap.String("instrument", ins.ID), zap.Error(err))
			go func(eng *service.Engine) {
				if err := eng.RecoverWithRetry(ctx); err != nil {
					logger.Error("instrument out of service",
						zap.String("instrument", eng.InstrumentID()), zap.Error(err))
				}
			}(eng)
		}
		eng.Start(ctx)
		router.Register(eng)
	}

	// ---------------- Background jobs ----------------

	writer := &snapshot.Writer{Dir: cfg.Storage.SnapshotDir}
	go service.NewSnapshotJob(router, writer, cfg.Engine.SnapshotInterval, logger).Run(ctx)

	pub, err := publisher.New(ob, publisher.Config{
		Brokers:     cfg.Kafka.Brokers,
		TradesTopic: cfg.Kafka.TradesTopic,
		BookTopic:   cfg.Kafka.BookTopic,
		Interval:    cfg.Engine.PublishInterval,
		Retention:   cfg.Engine.OutboxRetention,
	}, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer pub.Close()
	go pub.Run(ctx)

	// ---------------- Ingestion ----------------

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.OrdersTopic,
		GroupID:  cfg.Kafka.OrdersGroup,
		MaxBatch: cfg.Engine.BatchSize,
	}, logger)
	defer consumer.Close()

	go func() {
		if err := service.NewIngestor(consumer, router, pool, logger).Run(ctx); err != nil &&
			!errors.Is(err, context.Canceled) {
			logger.Error("ingestion stopped", zap.Error(err))
		}
	}()

	// ---------------- Admin HTTP ----------------

	srv := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: admin.NewServer(router, dir, loader, logger).Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("admin server failed", zap.Error(err))
		}
	}()

	logger.Info("matching engine running",
		zap.Int("instruments", dir.Len()),
		zap.String("admin_addr", cfg.AdminAddr),
	)

	<-ctx.Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	logger.Info("shutdown complete")
}
