package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	BackendCRDB   = "crdb"
	BackendRedis  = "redis"
	BackendS3     = "s3"
	BackendMemory = "memory"
	BackendGCal   = "gcal"
	BackendMongo  = "mongo"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CRDBDSN       string `env:"CRDB_DSN"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"rink"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RabbitURL     string `env:"RABBIT_URL"`
	JWTPublicKey  string `env:"JWT_PUBLIC_KEY"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	RegistryBackend string `env:"REGISTRY_BACKEND" envDefault:"crdb"`
	LedgerBackend   string `env:"LEDGER_BACKEND" envDefault:"redis"`
	CatalogBackend  string `env:"CATALOG_BACKEND" envDefault:"gcal"`

	HoldTTL         time.Duration `env:"HOLD_TTL" envDefault:"30m"`
	CommitRetries   int           `env:"COMMIT_RETRIES" envDefault:"3"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	RateLimit       int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Bucket  string `env:"S3_BUCKET"`
	S3Prefix  string `env:"S3_PREFIX" envDefault:"registrations/"`
	EmailFrom string `env:"EMAIL_FROM"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `env:"CHECKOUT_CURRENCY" envDefault:"usd"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL"`

	GoogleCalendarID      string `env:"GOOGLE_CALENDAR_ID"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HoldTTL <= 0 {
		return errors.Newf("HOLD_TTL must be positive, got %s", c.HoldTTL)
	}
	if c.CommitRetries < 1 {
		return errors.Newf("COMMIT_RETRIES must be at least 1, got %d", c.CommitRetries)
	}
	if c.StoreTimeout <= 0 {
		return errors.Newf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if !oneOf(c.RegistryBackend, BackendCRDB, BackendS3, BackendMemory) {
		return errors.Newf("unknown REGISTRY_BACKEND %q", c.RegistryBackend)
	}
	if !oneOf(c.LedgerBackend, BackendRedis, BackendCRDB, BackendMemory) {
		return errors.Newf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if !oneOf(c.CatalogBackend, BackendGCal, BackendMongo) {
		return errors.Newf("unknown CATALOG_BACKEND %q", c.CatalogBackend)
	}
	return nil
}

// Missing lists the settings the selected backends need but are not set.
func (c *Config) Missing() []string {
	var missing []string
	need := func(name, val string) {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if c.RegistryBackend == BackendCRDB || c.LedgerBackend == BackendCRDB {
		need("CRDB_DSN", c.CRDBDSN)
	}
	if c.RegistryBackend == BackendS3 {
		need("S3_BUCKET", c.S3Bucket)
	}
	if c.LedgerBackend == BackendRedis {
		need("REDIS_ADDR", c.RedisAddr)
	}
	switch c.CatalogBackend {
	case BackendGCal:
		need("GOOGLE_CALENDAR_ID", c.GoogleCalendarID)
		need("GOOGLE_CREDENTIALS_JSON", c.GoogleCredentialsJSON)
	case BackendMongo:
		need("MONGO_URI", c.MongoURI)
	}
	need("STRIPE_SECRET_KEY", c.StripeSecretKey)
	need("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	need("JWT_PUBLIC_KEY", c.JWTPublicKey)
	return missing
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
