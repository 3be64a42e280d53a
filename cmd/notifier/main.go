package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/rink-registrations/internal/adapters/mongo"
	"github.com/robertarktes/rink-registrations/internal/adapters/rabbit"
	"github.com/robertarktes/rink-registrations/internal/adapters/ses"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/notify"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.RabbitURL == "" || cfg.MongoURI == "" {
		log.Fatal("notifier needs RABBIT_URL and MONGO_URI")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "rink-notifier")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDatabase), logger)

	var mailer notify.Mailer
	if cfg.EmailFrom != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatalf("failed to load aws config: %v", err)
		}
		mailer = ses.NewMailer(sesv2.NewFromConfig(awsCfg), cfg.EmailFrom)
	} else {
		logger.Warn("EMAIL_FROM not set; confirmations will not be emailed")
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, rabbit.NotificationQueue, "#", 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	logger.Info("notifier started")
	notify.NewWorker(audit, mailer, logger).Run(ctx, deliveries)
	logger.Info("Shutdown notifier")
}
