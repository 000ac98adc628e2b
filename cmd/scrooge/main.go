package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"scrooge/internal/amqp"
	"scrooge/internal/cli"
	apphttp "scrooge/internal/http"
	"scrooge/internal/rates"
	"scrooge/internal/reports"
)

// amqpTrigger publishes rate import requests to the worker queue.
type amqpTrigger struct {
	client *amqp.Client
}

func (t *amqpTrigger) RequestImport(ctx context.Context, symbol string) error {
	return t.client.PublishRateImport(ctx, symbol)
}

// localTrigger imports rates in-process when no broker is configured.
type localTrigger struct {
	importer *rates.Importer
}

func (t *localTrigger) RequestImport(ctx context.Context, symbol string) error {
	return t.importer.EnsureSymbol(ctx, symbol)
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting scrooge server")

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	engine := reports.NewEngine(repo)

	var trigger apphttp.RateImportTrigger
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		trigger = &amqpTrigger{client: amqpClient}
		logger.Info("Rate imports delegated to worker queue", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		feed := rates.NewFeed(cfg.RateFeedBaseURL, cfg.RateRequestTimeout)
		trigger = &localTrigger{importer: rates.NewImporter(feed, repo, cfg.RateLookbackDays)}
		logger.Info("No AMQP broker configured, importing rates in-process")
	}

	srv := apphttp.NewServer(":"+cfg.Port, engine, repo, trigger, cfg.DefaultUTCOffset)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting HTTP server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
