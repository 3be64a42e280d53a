package main

import (
	"context"
	"log"
	"os"

	"github.com/robertarktes/rink-registrations/internal/bootstrap"
	"github.com/robertarktes/rink-registrations/internal/cli"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/expiry"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	open := func(ctx context.Context) (*cli.Deps, func(), error) {
		app, err := bootstrap.New(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		deps := &cli.Deps{
			Registry: app.Registry,
			Sweeper:  expiry.NewSweeper(app.Ledger, app.Publisher, app.Clock, logger, cfg.SweepInterval, expiry.WithRecords(app.Registry)),
		}
		// calendar and catalog are optional; commands that need them report it
		if cal, err := app.Calendar(ctx); err == nil {
			deps.Calendar = cal
		} else {
			logger.WithError(err).Debug("calendar unavailable")
		}
		if repo, err := app.MongoCatalog(); err == nil {
			deps.Catalog = repo
		}
		return deps, app.Close, nil
	}

	os.Exit(cli.Execute(cli.NewRootCommand(cfg, open)))
}
