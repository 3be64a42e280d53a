package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertarktes/rink-registrations/internal/adapters/stripe"
	"github.com/robertarktes/rink-registrations/internal/bootstrap"
	"github.com/robertarktes/rink-registrations/internal/config"
	httphandler "github.com/robertarktes/rink-registrations/internal/http"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "rink-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)
	if missing := cfg.Missing(); len(missing) > 0 {
		logger.WithField("missing", missing).Warn("configuration incomplete")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := bootstrap.New(startCtx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to wire dependencies: %v", err)
	}
	defer app.Close()

	events, err := app.Catalog(startCtx)
	cancelStart()
	if err != nil {
		log.Fatalf("failed to open event catalog: %v", err)
	}

	var admin *httphandler.JWTVerifier
	if cfg.JWTPublicKey != "" {
		admin, err = httphandler.NewJWTVerifier(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("failed to parse JWT public key: %v", err)
		}
	}

	checks := make(map[string]httphandler.Check)
	for name, check := range app.Checks() {
		checks[name] = check
	}

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Reservations: app.Reservations,
		Registry:     app.Registry,
		Capacity:     app.Capacity,
		Catalog:      events,
		Payments: stripe.NewProvider(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.CheckoutSuccessURL,
			CancelURL:     cfg.CheckoutCancelURL,
		}),
		Clock:  app.Clock,
		Logger: logger,
		Checks: checks,
	})

	r := httphandler.SetupRouter(handlers, logger, app.RateLimiter(), app.Idempotency(), admin)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
