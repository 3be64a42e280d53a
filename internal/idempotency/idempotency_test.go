package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedReplay(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	idemp := NewIdempotency(NewMemoryStore(time.Hour, clk), time.Hour)
	ctx := context.Background()

	owned, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	assert.Nil(t, owned)
	require.NoError(t, idemp.Complete(ctx, "camp-1", "abc", Response{Status: 201, Body: []byte("one")}))

	got, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Pending)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, "one", string(got.Body))

	other, err := idemp.Begin(ctx, "camp-2", "abc")
	require.NoError(t, err)
	assert.Nil(t, other)

	clk.Advance(2 * time.Hour)
	expired, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestBeginWhileInFlight(t *testing.T) {
	idemp := NewIdempotency(NewMemoryStore(time.Hour, clock.NewFake(time.Now())), time.Hour)
	ctx := context.Background()

	owned, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	require.Nil(t, owned)

	dup, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.True(t, dup.Pending)

	require.NoError(t, idemp.Abandon(ctx, "camp-1", "abc"))
	retry, err := idemp.Begin(ctx, "camp-1", "abc")
	require.NoError(t, err)
	assert.Nil(t, retry)
}

func TestConcurrentBeginClaimsOnce(t *testing.T) {
	idemp := NewIdempotency(NewMemoryStore(time.Hour, clock.NewFake(time.Now())), time.Hour)
	var owners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := idemp.Begin(context.Background(), "camp-1", "double-click")
			if err == nil && resp == nil {
				owners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), owners.Load())
}
