package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bollette/internal/amqp"
	"bollette/internal/cli"
	"bollette/internal/config"
	"bollette/internal/core"
	"bollette/internal/feed"
	"bollette/internal/log"
	"bollette/internal/services"
	"bollette/internal/sheets"
	"bollette/internal/sheets/google"
	"bollette/internal/sheets/memory"
	"bollette/internal/similarity"
	"bollette/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	slogger := cli.SetupLogger()

	slogger.Info("Starting bollette-reconciler")

	cfg := cli.LoadAndValidateConfig(slogger)
	store, closeStore := cli.InitStore(slogger, cfg)

	// AMQP is optional: without it cleared bills are simply not
	// exported until the next full sheet sync.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			slogger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			amqpClient = nil
		} else {
			slogger.Info("AMQP client initialized")
		}
	} else {
		slogger.Info("AMQP disabled - cleared bills will not be exported")
	}

	logger := log.New(log.Config{Component: log.ComponentWorker})
	engine := similarity.NewEngine()

	var events services.EventPublisher
	if amqpClient != nil {
		events = amqpClient
	}
	reconciler := services.NewReconciler(store, engine, logger, events)
	reader := feed.NewCSVReader(cfg.FeedPath)

	ctx, done := cli.GracefulShutdown(slogger, 30*time.Second, func() {
		if amqpClient != nil {
			amqpClient.Close()
		}
		closeStore()
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconcileLoop(ctx, slogger, cfg, reconciler, reader, store)
	})
	g.Go(func() error {
		return generateLoop(ctx, slogger, cfg, reconciler)
	})
	if amqpClient != nil {
		g.Go(func() error {
			return exportLoop(ctx, slogger, cfg, amqpClient)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slogger.Error("Worker stopped with error", "error", err)
	}
	cli.WaitForShutdown(ctx, done)
}

// reconcileLoop periodically reads the transaction feed window and
// reconciles it against the unpaid bills.
func reconcileLoop(ctx context.Context, logger *slog.Logger, cfg *config.Config, r *services.Reconciler, reader feed.Reader, store storage.Store) error {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	runOnce := func(now time.Time) {
		to := core.DateOf(now)
		from := core.DateOf(now.AddDate(0, 0, -cfg.FeedWindowDays))

		txs, err := reader.Transactions(ctx, from, to)
		if err != nil {
			logger.Error("Failed to read transaction feed", "error", err)
			return
		}
		bills, err := store.ListUnpaidBills(ctx)
		if err != nil {
			logger.Error("Failed to list unpaid bills", "error", err)
			return
		}

		summary, err := r.Reconcile(ctx, txs, bills, now)
		if errors.Is(err, services.ErrRunInProgress) {
			logger.Info("Previous reconciliation still running, skipping tick")
			return
		}
		if err != nil {
			logger.Error("Reconciliation failed", "error", err)
			return
		}
		logger.Info("Reconciliation pass finished",
			"transactions", len(txs),
			"cleared", summary.Cleared,
			"advanced", summary.Advanced,
			"generated", summary.Generated)
	}

	runOnce(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			runOnce(now)
		}
	}
}

// generateLoop periodically creates instances for patterns whose next
// occurrence has arrived.
func generateLoop(ctx context.Context, logger *slog.Logger, cfg *config.Config, r *services.Reconciler) error {
	ticker := time.NewTicker(cfg.GenerateInterval)
	defer ticker.Stop()

	runOnce := func(now time.Time) {
		count, err := r.GenerateDue(ctx, now)
		if err != nil {
			logger.Error("Bulk generation failed", "error", err)
			return
		}
		logger.Info("Bulk generation pass finished", "bills_created", count)
	}

	runOnce(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			runOnce(now)
		}
	}
}

// exportLoop consumes cleared-bill events and appends them to the
// export sheet. Without Google credentials it falls back to an
// in-memory writer so the queue still drains.
func exportLoop(ctx context.Context, logger *slog.Logger, cfg *config.Config, client *amqp.Client) error {
	var writer sheets.ClearedWriter
	if cfg.GoogleSpreadsheetID != "" {
		gc, err := google.NewFromEnv(ctx)
		if err != nil {
			logger.Warn("Failed to initialize sheets export, using in-memory writer", "error", err)
			writer = memory.New()
		} else {
			writer = gc
		}
	} else {
		writer = memory.New()
	}

	return client.ConsumeBillCleared(ctx, func(msg *amqp.BillClearedMessage) error {
		ref, err := writer.Append(ctx, sheets.ClearedRecord{
			PaidDate:      msg.PaidDate,
			Name:          msg.BillName,
			AmountCents:   msg.AmountCents,
			TransactionID: msg.TransactionID,
			PatternID:     msg.PatternID,
			Confidence:    msg.Confidence,
		})
		if err != nil {
			return err
		}
		logger.Info("Exported cleared bill", "bill_id", msg.BillID, "row", ref)
		return nil
	})
}
