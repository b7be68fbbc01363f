package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yairfalse/sift/internal/app"
	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/logging"
	"github.com/yairfalse/sift/pkg/shutdown"
	"github.com/yairfalse/sift/pkg/version"
)

func main() {
	configFile := flag.String("config", os.Getenv("SIFT_CONFIG"), "config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// the service only exists to consume run requests
	cfg.NATS.Enabled = true

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Correlation service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	subscriber, err := a.Subscriber()
	if err != nil {
		return err
	}

	logger.Info("Correlation service started",
		zap.String("version", version.Get().Version),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("stream", cfg.NATS.StreamName),
		zap.String("runs_subject", cfg.NATS.RunsSubject+".>"),
		zap.String("results_subject", cfg.NATS.ResultsSubject+".>"),
		zap.String("storage", cfg.Storage.Driver),
	)

	if err := subscriber.Start(ctx); err != nil {
		return err
	}

	stats := subscriber.Stats()
	logger.Info("Correlation service stopped",
		zap.Int64("runs_received", stats.Received),
		zap.Int64("runs_completed", stats.Acked),
		zap.Int64("runs_failed", stats.ProcessingErrors),
	)
	return nil
}
