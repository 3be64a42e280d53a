package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robertarktes/rink-registrations/internal/bootstrap"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/expiry"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "rink-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to wire dependencies: %v", err)
	}
	defer app.Close()

	sweeper := expiry.NewSweeper(app.Ledger, app.Publisher, app.Clock, logger, cfg.SweepInterval, expiry.WithRecords(app.Registry))
	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	sweeper.Run(ctx)
	logger.Info("Shutdown expiry worker")
}
