package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/rink-registrations/internal/adapters/crdb"
	"github.com/robertarktes/rink-registrations/internal/adapters/rabbit"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" || cfg.RabbitURL == "" {
		log.Fatal("outbox publisher needs CRDB_DSN and RABBIT_URL")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "rink-outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(repo, rabbitPub, clock.System{}, logger, 0, 0)
	logger.Info("Outbox publisher started")
	publisher.Run(ctx)
	logger.Info("Shutdown outbox publisher")
}
