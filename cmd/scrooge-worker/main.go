package main

import (
	"context"
	"errors"
	"os"
	"time"

	"scrooge/internal/amqp"
	"scrooge/internal/cli"
	"scrooge/internal/rates"
	"scrooge/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting scrooge-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	feed := rates.NewFeed(cfg.RateFeedBaseURL, cfg.RateRequestTimeout)
	importer := rates.NewImporter(feed, repo, cfg.RateLookbackDays)
	rateWorker := worker.NewRateWorker(importer, cfg.RateRefreshInterval)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	go func() {
		err := amqpClient.ConsumeRateImport(ctx, func(msg *amqp.RateImportMessage) error {
			return rateWorker.HandleImportMessage(ctx, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
	}()

	go func() {
		if err := rateWorker.RunPeriodicRefresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Periodic refresh stopped", "error", err)
		}
	}()

	logger.Info("Worker running",
		"queue", cfg.AMQPQueue,
		"refresh_interval", cfg.RateRefreshInterval.String())

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
