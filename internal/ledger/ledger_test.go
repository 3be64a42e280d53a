package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/robertarktes/rink-registrations/internal/adapters/memory"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/ledger"
	"github.com/robertarktes/rink-registrations/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	clock   *clock.Fake
	records *registry.Store
	holds   *memory.HoldStore
	ledger  *ledger.Ledger
}

func newFixture(t *testing.T, eventID string, capacity int) fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	records := registry.NewStore(memory.NewRegistrationStore(), registry.WithClock(clk))
	_, err := records.Ensure(context.Background(), eventID, capacity)
	require.NoError(t, err)
	holds := memory.NewHoldStore()
	return fixture{clock: clk, records: records, holds: holds, ledger: ledger.New(holds, records, clk, 3)}
}

func TestCreateHoldRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 2)

	_, err := f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)
	_, err = f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)

	_, err = f.ledger.CreateHold(ctx, "camp", time.Minute)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	n, err := f.ledger.ActiveHolds(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// afterRead runs hook once, right after the first record read.
type afterRead struct {
	ledger.RecordReader
	hook func()
}

func (a *afterRead) Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error) {
	rec, err := a.RecordReader.Get(ctx, eventID)
	if a.hook != nil {
		hook := a.hook
		a.hook = nil
		hook()
	}
	return rec, err
}

func TestCommitDuringCreateOvershootsByInFlightOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 2)

	first, err := f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)
	second, err := f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)

	reader := &afterRead{RecordReader: f.records, hook: func() {
		_, err := f.records.AppendRegistrant(ctx, "camp", domain.Registrant{ID: "r1", HoldID: first.HoldID}, 0)
		require.NoError(t, err)
		_, err = f.ledger.MarkCommitted(ctx, first.HoldID, "r1")
		require.NoError(t, err)
	}}
	racing := ledger.New(f.holds, reader, f.clock, 3)
	third, err := racing.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)

	rec, err := f.records.Get(ctx, "camp")
	require.NoError(t, err)
	active, err := f.ledger.ActiveHolds(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, rec.MaxCapacity+1, rec.CurrentRegistrations+active)

	_, err = f.records.AppendRegistrant(ctx, "camp", domain.Registrant{ID: "r2", HoldID: second.HoldID}, 1)
	require.NoError(t, err)
	_, err = f.records.AppendRegistrant(ctx, "camp", domain.Registrant{ID: "r3", HoldID: third.HoldID}, 2)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	rec, err = f.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.CurrentRegistrations)
}

func TestCreateHoldUnknownEvent(t *testing.T) {
	f := newFixture(t, "camp", 1)
	_, err := f.ledger.CreateHold(context.Background(), "nope", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLazyExpiryFreesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 1)

	h, err := f.ledger.CreateHold(ctx, "camp", time.Second)
	require.NoError(t, err)

	_, err = f.ledger.CreateHold(ctx, "camp", time.Second)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	f.clock.Advance(time.Second)

	got, err := f.ledger.GetHold(ctx, h.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, got.Status)
	assert.Equal(t, domain.ReasonExpired, got.Reason)

	n, err := f.ledger.ActiveHolds(ctx, "camp")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.ledger.CreateHold(ctx, "camp", time.Second)
	assert.NoError(t, err)
}

func TestReleaseHoldIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 1)
	h, err := f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)

	released, changed, err := f.ledger.ReleaseHold(ctx, h.HoldID, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.ReasonCancelled, released.Reason)

	again, changed, err := f.ledger.ReleaseHold(ctx, h.HoldID, domain.ReasonPaymentFailed)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.ReasonCancelled, again.Reason)

	_, _, err = f.ledger.ReleaseHold(ctx, "missing", domain.ReasonCancelled)
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestReleaseExpiredHoldRecordsExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 1)
	h, err := f.ledger.CreateHold(ctx, "camp", time.Second)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	released, changed, err := f.ledger.ReleaseHold(ctx, h.HoldID, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.ReasonExpired, released.Reason)
}

func TestCommittedHoldCannotBeReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 1)
	h, err := f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)

	_, err = f.ledger.MarkCommitted(ctx, h.HoldID, "reg-1")
	require.NoError(t, err)
	_, err = f.ledger.MarkCommitted(ctx, h.HoldID, "reg-1")
	require.NoError(t, err)

	got, changed, err := f.ledger.ReleaseHold(ctx, h.HoldID, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.HoldCommitted, got.Status)

	_, err = f.ledger.MarkCommitted(ctx, h.HoldID, "reg-2")
	assert.ErrorIs(t, err, domain.ErrHoldTerminal)
}

func TestExpireHoldsSweepsAllEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 5)
	_, err := f.records.Ensure(ctx, "lesson", 5)
	require.NoError(t, err)

	_, err = f.ledger.CreateHold(ctx, "camp", time.Second)
	require.NoError(t, err)
	_, err = f.ledger.CreateHold(ctx, "lesson", time.Second)
	require.NoError(t, err)
	keep, err := f.ledger.CreateHold(ctx, "lesson", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	released, err := f.ledger.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Len(t, released, 2)
	for _, h := range released {
		assert.Equal(t, domain.ReasonExpired, h.Reason)
		assert.NotEqual(t, keep.HoldID, h.HoldID)
	}

	again, err := f.ledger.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCreateHoldAccountsForCommittedRegistrations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 2)
	_, err := f.records.AppendRegistrant(ctx, "camp", domain.Registrant{ID: "r1", HoldID: "h0"}, 0)
	require.NoError(t, err)

	_, err = f.ledger.CreateHold(ctx, "camp", time.Minute)
	require.NoError(t, err)
	_, err = f.ledger.CreateHold(ctx, "camp", time.Minute)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestCreateHoldKeepsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "camp", 1)
	draft := domain.Registrant{Player: domain.Player{FirstName: "Ada"}}

	h, err := f.ledger.CreateHold(ctx, "camp", time.Minute, ledger.WithDraft(draft))
	require.NoError(t, err)

	got, err := f.ledger.GetHold(ctx, h.HoldID)
	require.NoError(t, err)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "Ada", got.Draft.Player.FirstName)
}
