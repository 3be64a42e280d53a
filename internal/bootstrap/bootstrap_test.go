package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		RegistryBackend: config.BackendMemory,
		LedgerBackend:   config.BackendMemory,
		CatalogBackend:  config.BackendMongo,
		HoldTTL:         30 * time.Minute,
		CommitRetries:   3,
		StoreTimeout:    time.Second,
		IdempotencyTTL:  time.Hour,
		RateLimit:       10,
	}
}

func TestNewWithMemoryBackends(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, memoryConfig(), observability.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, outbox.LogOnly{}, app.Publisher)
	assert.Empty(t, app.Checks())
	assert.NotNil(t, app.Idempotency())
	assert.NotNil(t, app.RateLimiter())

	_, err = app.Registry.Ensure(ctx, "camp-1", 2)
	require.NoError(t, err)
	hold, err := app.Reservations.BeginReservation(ctx, "camp-1", nil)
	require.NoError(t, err)
	_, err = app.Reservations.Commit(ctx, hold.HoldID, domain.Registrant{})
	require.NoError(t, err)

	a, err := app.Capacity.Availability(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.RemainingSeats)

	_, err = app.Catalog(ctx)
	assert.Error(t, err, "mongo catalog without MONGO_URI")
}

func TestNewRequiresSelectedBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.LedgerBackend = config.BackendRedis
	_, err := New(context.Background(), cfg, observability.NewNopLogger())
	assert.ErrorContains(t, err, "REDIS_ADDR")

	cfg = memoryConfig()
	cfg.RegistryBackend = config.BackendCRDB
	_, err = New(context.Background(), cfg, observability.NewNopLogger())
	assert.ErrorContains(t, err, "CRDB_DSN")
}
