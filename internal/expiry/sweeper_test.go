package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robertarktes/rink-registrations/internal/adapters/memory"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/ledger"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishSpy struct {
	events []domain.LifecycleEvent
	fail   int
}

func (p *publishSpy) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func setup(t *testing.T) (*ledger.Ledger, *clock.Fake) {
	t.Helper()
	l, _, clk := setupWithRecords(t)
	return l, clk
}

func setupWithRecords(t *testing.T) (*ledger.Ledger, *registry.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	records := registry.NewStore(memory.NewRegistrationStore(), registry.WithClock(clk))
	_, err := records.Ensure(context.Background(), "camp-1", 10)
	require.NoError(t, err)
	return ledger.New(memory.NewHoldStore(), records, clk, 3), records, clk
}

func TestRunOnceReleasesAndAnnounces(t *testing.T) {
	l, clk := setup(t)
	ctx := context.Background()

	stale, err := l.CreateHold(ctx, "camp-1", time.Minute)
	require.NoError(t, err)
	_, err = l.CreateHold(ctx, "camp-1", time.Hour)
	require.NoError(t, err)

	pub := &publishSpy{fail: 1}
	s := NewSweeper(l, pub, clk, observability.NewNopLogger(), time.Second)
	s.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	clk.Advance(2 * time.Minute)
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Equal(t, stale.HoldID, pub.events[0].HoldID)
	assert.Equal(t, domain.ReasonExpired, pub.events[0].Reason)

	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a hold is released once")

	active, err := l.ActiveHolds(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestRunOnceSkipsRegisteredHolds(t *testing.T) {
	l, records, clk := setupWithRecords(t)
	ctx := context.Background()

	paid, err := l.CreateHold(ctx, "camp-1", time.Minute)
	require.NoError(t, err)
	abandoned, err := l.CreateHold(ctx, "camp-1", time.Minute)
	require.NoError(t, err)
	_, err = records.AppendRegistrant(ctx, "camp-1", domain.Registrant{ID: "r1", HoldID: paid.HoldID}, 0)
	require.NoError(t, err)

	pub := &publishSpy{}
	s := NewSweeper(l, pub, clk, observability.NewNopLogger(), time.Second, WithRecords(records))

	clk.Advance(2 * time.Minute)
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.events, 1)
	assert.Equal(t, abandoned.HoldID, pub.events[0].HoldID)
}

func TestRunStopsOnCancel(t *testing.T) {
	l, clk := setup(t)
	s := NewSweeper(l, &publishSpy{}, clk, observability.NewNopLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
