// Package bootstrap turns configuration into wired components shared by the
// binaries. Connections are opened only for the backends the config selects.
package bootstrap

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robertarktes/rink-registrations/internal/adapters/crdb"
	"github.com/robertarktes/rink-registrations/internal/adapters/gcal"
	"github.com/robertarktes/rink-registrations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/rink-registrations/internal/adapters/mongo"
	"github.com/robertarktes/rink-registrations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/rink-registrations/internal/adapters/redis"
	s3adapter "github.com/robertarktes/rink-registrations/internal/adapters/s3"
	"github.com/robertarktes/rink-registrations/internal/capacity"
	"github.com/robertarktes/rink-registrations/internal/catalog"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/idempotency"
	"github.com/robertarktes/rink-registrations/internal/ledger"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/outbox"
	"github.com/robertarktes/rink-registrations/internal/rateLimit"
	"github.com/robertarktes/rink-registrations/internal/registry"
	"github.com/robertarktes/rink-registrations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type App struct {
	Config *config.Config
	Logger observability.Logger
	Clock  clock.Clock

	Registry     *registry.Store
	Ledger       *ledger.Ledger
	Reservations *reservation.Service
	Capacity     *capacity.Facade
	Publisher    reservation.Publisher

	CRDB   *crdb.Repository
	Redis  goredis.UniversalClient
	Mongo  *mongo.Database
	Rabbit *amqp.Connection

	checks  map[string]func(context.Context) error
	closers []func()
}

// New opens connections and wires the reservation core. Close releases
// everything New opened, including on error.
func New(ctx context.Context, cfg *config.Config, logger observability.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clock.System{},
		checks: make(map[string]func(context.Context) error),
	}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	backend, err := a.registryBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registry.NewStore(backend, registry.WithName(cfg.RegistryBackend), registry.WithClock(a.Clock))

	var holds ledger.Store
	switch cfg.LedgerBackend {
	case config.BackendRedis:
		holds = redisadapter.NewHoldStore(a.Redis, 7*24*time.Hour)
	case config.BackendCRDB:
		holds = a.CRDB.Holds()
	default:
		holds = memory.NewHoldStore()
	}
	a.Ledger = ledger.New(holds, a.Registry, a.Clock, cfg.CommitRetries)

	switch {
	case a.CRDB != nil:
		a.Publisher = outbox.NewWriter(a.CRDB)
	case a.Rabbit != nil:
		pub, err := rabbit.NewPublisher(a.Rabbit)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "rabbit publisher")
		}
		a.closers = append(a.closers, func() { pub.Close() })
		a.Publisher = pub
	default:
		a.Publisher = outbox.LogOnly{Logger: logger}
	}

	a.Reservations = reservation.NewService(a.Registry, a.Ledger, a.Publisher, a.Clock, logger, reservation.Options{
		HoldTTL:       cfg.HoldTTL,
		CommitRetries: cfg.CommitRetries,
		Timeout:       cfg.StoreTimeout,
	})
	a.Capacity = capacity.NewFacade(a.Registry, a.Ledger)
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return errors.Wrap(err, "crdb pool")
		}
		a.closers = append(a.closers, pool.Close)
		a.CRDB = crdb.NewRepository(pool)
		if err := a.CRDB.Migrate(ctx); err != nil {
			return err
		}
		a.checks["crdb"] = a.CRDB.Ping
	} else if cfg.RegistryBackend == config.BackendCRDB || cfg.LedgerBackend == config.BackendCRDB {
		return errors.New("CRDB_DSN is required for the crdb backend")
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { client.Close() })
		a.Redis = client
		a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else if cfg.LedgerBackend == config.BackendRedis {
		return errors.New("REDIS_ADDR is required for the redis ledger")
	}

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return errors.Wrap(err, "mongo connect")
		}
		a.closers = append(a.closers, func() { client.Disconnect(context.Background()) })
		a.Mongo = client.Database(cfg.MongoDatabase)
		a.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
	}

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return errors.Wrap(err, "rabbit dial")
		}
		a.closers = append(a.closers, func() { conn.Close() })
		a.Rabbit = conn
		a.checks["rabbit"] = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return nil
}

func (a *App) registryBackend(ctx context.Context) (registry.Backend, error) {
	switch a.Config.RegistryBackend {
	case config.BackendCRDB:
		return a.CRDB.Registrations(), nil
	case config.BackendS3:
		awsCfg, err := a.AWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return s3adapter.NewRegistrationStore(s3.NewFromConfig(awsCfg), a.Config.S3Bucket, a.Config.S3Prefix), nil
	default:
		return memory.NewRegistrationStore(), nil
	}
}

func (a *App) AWSConfig(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWSRegion))
	return awsCfg, errors.Wrap(err, "aws config")
}

// Calendar connects to the configured Google Calendar.
func (a *App) Calendar(ctx context.Context) (*gcal.Source, error) {
	if a.Config.GoogleCalendarID == "" {
		return nil, errors.New("GOOGLE_CALENDAR_ID is not set")
	}
	return gcal.NewSource(ctx, a.Config.GoogleCalendarID, a.Config.GoogleCredentialsJSON)
}

func (a *App) MongoCatalog() (*mongoadapter.CatalogRepository, error) {
	if a.Mongo == nil {
		return nil, errors.New("MONGO_URI is not set")
	}
	return mongoadapter.NewCatalogRepository(a.Mongo, a.Logger), nil
}

// Catalog returns the configured event source behind the TTL cache.
func (a *App) Catalog(ctx context.Context) (*catalog.Cached, error) {
	var src catalog.Source
	switch a.Config.CatalogBackend {
	case config.BackendMongo:
		repo, err := a.MongoCatalog()
		if err != nil {
			return nil, err
		}
		src = repo
	default:
		cal, err := a.Calendar(ctx)
		if err != nil {
			return nil, err
		}
		src = cal
	}
	return catalog.NewCached(src, a.Config.CatalogCacheTTL, a.Clock), nil
}

func (a *App) Idempotency() *idempotency.Idempotency {
	if a.Redis != nil {
		return idempotency.NewIdempotency(redisadapter.NewIdempotency(a.Redis), a.Config.IdempotencyTTL)
	}
	return idempotency.NewIdempotency(idempotency.NewMemoryStore(a.Config.IdempotencyTTL, a.Clock), a.Config.IdempotencyTTL)
}

func (a *App) RateLimiter() *rateLimit.RateLimiter {
	var counter rateLimit.Counter = rateLimit.NewMemoryCounter(time.Minute, a.Clock)
	if a.Redis != nil {
		counter = redisadapter.NewCounter(a.Redis)
	}
	return rateLimit.NewRateLimiter(counter, a.Config.RateLimit, time.Minute, a.Logger)
}

func (a *App) Checks() map[string]func(context.Context) error {
	return a.checks
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
