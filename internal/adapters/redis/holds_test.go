package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robertarktes/rink-registrations/internal/adapters/redis"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHoldStore_CreateIsAtomicUnderContention(t *testing.T) {
	store := redis.NewHoldStore(startRedis(t), time.Hour)
	ctx := context.Background()
	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(ctx, domain.NewHold("camp-1", nil, now, time.Minute), 5, now)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	n, err := store.CountActive(ctx, "camp-1", now)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestHoldStore_ExpiryAndTransition(t *testing.T) {
	store := redis.NewHoldStore(startRedis(t), time.Hour)
	ctx := context.Background()
	now := time.Now()

	stale := domain.NewHold("lesson-1", nil, now, time.Minute)
	require.NoError(t, store.Create(ctx, stale, 1, now))

	later := now.Add(2 * time.Minute)
	n, err := store.CountActive(ctx, "lesson-1", later)
	require.NoError(t, err)
	assert.Zero(t, n, "expired hold should not count")

	fresh := domain.NewHold("lesson-1", &domain.Registrant{Player: domain.Player{FirstName: "Ana"}}, later, time.Minute)
	require.NoError(t, store.Create(ctx, fresh, 1, later))

	released, err := store.ExpireDue(ctx, later)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, stale.HoldID, released[0].HoldID)
	assert.Equal(t, domain.ReasonExpired, released[0].Reason)

	committed, err := store.Transition(ctx, fresh.HoldID, domain.HoldCommitted, "", "reg-9", later)
	require.NoError(t, err)
	assert.Equal(t, "reg-9", committed.RegistrantID)
	require.NotNil(t, committed.Draft)
	assert.Equal(t, "Ana", committed.Draft.Player.FirstName)

	_, err = store.Transition(ctx, fresh.HoldID, domain.HoldReleased, domain.ReasonCancelled, "", later)
	assert.True(t, errors.Is(err, domain.ErrHoldTerminal))

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))
}

func TestIdempotency_FirstWriterWins(t *testing.T) {
	store := redis.NewIdempotency(startRedis(t))
	ctx := context.Background()

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	claimed, err := store.Claim(ctx, "key-1", idempotency.Response{Pending: true}, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = store.Claim(ctx, "key-1", idempotency.Response{Pending: true}, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Pending)

	require.NoError(t, store.Set(ctx, "key-1", idempotency.Response{Status: 201, Body: []byte(`{"a":1}`)}, time.Minute))
	got, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Pending)
	assert.Equal(t, 201, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.Body))

	require.NoError(t, store.Delete(ctx, "key-1"))
	got, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCounter_Window(t *testing.T) {
	counter := redis.NewCounter(startRedis(t))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := counter.Incr(ctx, "ip:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
}
