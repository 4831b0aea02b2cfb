package main

import (
	"context"
	"errors"
	"os"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"hroshi/internal/amqp"
	"hroshi/internal/backend"
	"hroshi/internal/cli"
	"hroshi/internal/config"
	apphttp "hroshi/internal/http"
	"hroshi/internal/log"
	"hroshi/internal/services"
	gsheet "hroshi/internal/sheets/google"
	"hroshi/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	cli.MustValidateConfig(logger, cfg, (*config.Config).ValidateForWorker)

	logger.Info("Starting hroshi-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	sheetsCfg := backend.SheetsConfig(backendCfg)
	// Reads never go through the worker, so the scan cache stays off.
	sheetsCfg.ScanCacheTTL = 0
	target, err := gsheet.NewFromConfig(ctx, sheetsCfg)
	if err != nil {
		return err
	}
	logger.Info("Google Sheets target initialized", "ledger_sheet", cfg.GoogleSheetName)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return err
	}

	syncWorker := worker.NewSyncWorker(sqliteRepo, target, loc, cfg.SyncBatchSize, logger)

	// Rows written while the worker was down have no message left.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	processor := services.NewSyncProcessor(syncWorker, services.SyncProcessorConfig{PollInterval: cfg.SyncInterval})
	if err := processor.Start(ctx); err != nil {
		return err
	}

	health := apphttp.NewServer(":"+cfg.Port, logger)
	health.AddCheck("sqlite", sqliteRepo.Ping)
	health.AddCheck("sweeper", func(context.Context) error {
		if !processor.IsRunning() {
			return errors.New("stopped")
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return amqpClient.Consume(gctx, syncWorker.HandleSyncMessage) })
	g.Go(func() error { return health.Run(gctx) })

	err = g.Wait()

	cli.RunCleanup(logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Warn("Sync processor did not stop cleanly", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", log.FieldError, err)
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
