package reservation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/rink-registrations/internal/adapters/memory"
	"github.com/robertarktes/rink-registrations/internal/capacity"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/ledger"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/registry"
	"github.com/robertarktes/rink-registrations/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []domain.LifecycleType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LifecycleType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	clock     *clock.Fake
	backend   registry.Backend
	records   *registry.Store
	ledger    *ledger.Ledger
	facade    *capacity.Facade
	publisher *recordingPublisher
	svc       *reservation.Service
}

func newHarness(t *testing.T, backend registry.Backend, opts reservation.Options) *harness {
	t.Helper()
	if backend == nil {
		backend = memory.NewRegistrationStore()
	}
	clk := clock.NewFake(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	records := registry.NewStore(backend, registry.WithClock(clk))
	l := ledger.New(memory.NewHoldStore(), records, clk, 3)
	pub := &recordingPublisher{}
	return &harness{
		clock:     clk,
		backend:   backend,
		records:   records,
		ledger:    l,
		facade:    capacity.NewFacade(records, l),
		publisher: pub,
		svc:       reservation.NewService(records, l, pub, clk, observability.NewNopLogger(), opts),
	}
}

func (h *harness) event(t *testing.T, id string, max int) {
	t.Helper()
	_, err := h.records.Ensure(context.Background(), id, max)
	require.NoError(t, err)
}

func player(name string) domain.Registrant {
	return domain.Registrant{
		Player:           domain.Player{FirstName: name, LastName: "Skater", DateOfBirth: "2013-02-02"},
		Guardian:         domain.Contact{Name: "Guardian", Email: "g@example.com", Phone: "5550001111"},
		EmergencyContact: domain.Contact{Name: "Emergency", Phone: "5552223333"},
	}
}

func TestCommitScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "summer-camp", 20)

	hold, err := h.svc.BeginReservation(ctx, "summer-camp", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, hold.Status)
	assert.Equal(t, hold.CreatedAt.Add(30*time.Minute), hold.ExpiresAt)

	reg, err := h.svc.Commit(ctx, hold.HoldID, player("Wayne"))
	require.NoError(t, err)
	assert.Equal(t, hold.HoldID, reg.HoldID)
	assert.NotEmpty(t, reg.ID)

	rec, err := h.records.Get(ctx, "summer-camp")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentRegistrations)
	assert.Len(t, rec.Registrations, 1)

	remaining, err := h.facade.RemainingSeats(ctx, "summer-camp")
	require.NoError(t, err)
	assert.Equal(t, 19, remaining)

	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCommitted, got.Status)
	assert.Equal(t, reg.ID, got.RegistrantID)

	assert.Equal(t, []domain.LifecycleType{domain.LifecycleHoldCreated, domain.LifecycleRegistrationCommitted}, h.publisher.types())
}

func TestSoldOutScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "lesson", 1)
	_, err := h.records.AppendRegistrant(ctx, "lesson", domain.Registrant{ID: "r0", HoldID: "h0"}, 0)
	require.NoError(t, err)

	_, err = h.svc.BeginReservation(ctx, "lesson", nil)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	d, err := h.facade.CanRegister(ctx, "lesson")
	require.NoError(t, err)
	assert.Equal(t, capacity.Decision{Allowed: false, Reason: capacity.ReasonSoldOut}, d)
}

func TestCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 5)

	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)
	first, err := h.svc.Commit(ctx, hold.HoldID, player("Bobby"))
	require.NoError(t, err)
	second, err := h.svc.Commit(ctx, hold.HoldID, player("Someone Else"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	rec, err := h.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentRegistrations)
}

func TestCommitFinishesWhenRegistrantAlreadyRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 5)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	// a previous attempt appended but died before marking the hold
	prior := player("Mario")
	prior.ID = "prior"
	prior.HoldID = hold.HoldID
	_, err = h.records.AppendRegistrant(ctx, "camp", prior, 0)
	require.NoError(t, err)

	reg, err := h.svc.Commit(ctx, hold.HoldID, player("Mario"))
	require.NoError(t, err)
	assert.Equal(t, "prior", reg.ID)

	rec, err := h.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentRegistrations)
	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCommitted, got.Status)
}

func TestCommitRetryAfterTTLReturnsRecordedRegistrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{HoldTTL: time.Minute})
	h.event(t, "camp", 5)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	prior := player("Mario")
	prior.ID = "prior"
	prior.HoldID = hold.HoldID
	_, err = h.records.AppendRegistrant(ctx, "camp", prior, 0)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)

	reg, err := h.svc.Commit(ctx, hold.HoldID, player("Mario"))
	require.NoError(t, err)
	assert.Equal(t, "prior", reg.ID)

	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCommitted, got.Status)
	assert.Equal(t, "prior", got.RegistrantID)

	rec, err := h.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentRegistrations)
	assert.NotContains(t, h.publisher.types(), domain.LifecycleHoldReleased)
}

func TestCommitRetryAfterSweepReturnsRecordedRegistrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{HoldTTL: time.Minute})
	h.event(t, "camp", 5)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	prior := player("Mario")
	prior.ID = "prior"
	prior.HoldID = hold.HoldID
	_, err = h.records.AppendRegistrant(ctx, "camp", prior, 0)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	swept, err := h.ledger.ExpireHolds(ctx)
	require.NoError(t, err)
	require.Len(t, swept, 1)

	reg, err := h.svc.Commit(ctx, hold.HoldID, player("Mario"))
	require.NoError(t, err)
	assert.Equal(t, "prior", reg.ID)

	remaining, err := h.facade.RemainingSeats(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestExpiryReleasesCapacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{HoldTTL: time.Second})
	h.event(t, "camp", 1)

	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)
	d, err := h.facade.CanRegister(ctx, "camp")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	h.clock.Advance(1500 * time.Millisecond)

	d, err = h.facade.CanRegister(ctx, "camp")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, err = h.svc.Commit(ctx, hold.HoldID, player("Late"))
	assert.ErrorIs(t, err, domain.ErrHoldExpired)

	rec, err := h.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.Zero(t, rec.CurrentRegistrations)
}

func TestCommitUnknownHold(t *testing.T) {
	h := newHarness(t, nil, reservation.Options{})
	_, err := h.svc.Commit(context.Background(), "nope", player("X"))
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 1)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.Release(ctx, hold.HoldID, domain.ReasonCancelled))
	require.NoError(t, h.svc.Release(ctx, hold.HoldID, domain.ReasonCancelled))
	require.NoError(t, h.svc.Release(ctx, "unknown", domain.ReasonCancelled))

	_, err = h.svc.Commit(ctx, hold.HoldID, player("Gone"))
	assert.ErrorIs(t, err, domain.ErrHoldExpired)

	assert.Equal(t, []domain.LifecycleType{domain.LifecycleHoldCreated, domain.LifecycleHoldReleased}, h.publisher.types())

	remaining, err := h.facade.RemainingSeats(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestReleaseAfterCommitKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 1)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)
	_, err = h.svc.Commit(ctx, hold.HoldID, player("Kept"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Release(ctx, hold.HoldID, domain.ReasonCancelled))
	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCommitted, got.Status)
}

func TestNoOversellUnderRace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "last-seat", 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		soldOut   int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hold, err := h.svc.BeginReservation(ctx, "last-seat", nil)
			if err == nil {
				_, err = h.svc.Commit(ctx, hold.HoldID, player(fmt.Sprintf("p%d", i)))
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, domain.ErrCapacityExceeded):
				soldOut++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, soldOut)
	rec, err := h.records.Get(ctx, "last-seat")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentRegistrations)
}

func TestManyConcurrentReservationsRespectCapacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{CommitRetries: 50})
	h.event(t, "camp", 7)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hold, err := h.svc.BeginReservation(ctx, "camp", nil)
			if err != nil {
				return
			}
			_, _ = h.svc.Commit(ctx, hold.HoldID, player(fmt.Sprintf("p%d", i)))
		}(i)
	}
	wg.Wait()

	rec, err := h.records.Get(ctx, "camp")
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.CurrentRegistrations, 7)
	assert.Equal(t, rec.CurrentRegistrations, len(rec.Registrations))

	a, err := h.facade.Availability(ctx, "camp")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.RemainingSeats, 0)
	assert.LessOrEqual(t, a.CurrentRegistrations+a.ActiveHolds, a.MaxCapacity)
}

// contendedBackend loses every conditional write.
type contendedBackend struct {
	*memory.RegistrationStore
}

func (b contendedBackend) Replace(ctx context.Context, rec domain.RegistrationRecord, version string) (string, error) {
	return "", fmt.Errorf("replace %s: %w", rec.EventID, domain.ErrConcurrentModification)
}

func TestCommitGivesUpAfterBoundedRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, contendedBackend{memory.NewRegistrationStore()}, reservation.Options{CommitRetries: 3})
	h.event(t, "camp", 10)

	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	_, err = h.svc.Commit(ctx, hold.HoldID, player("Unlucky"))
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, got.Status)
	assert.Equal(t, domain.ReasonCapacity, got.Reason)
}

func TestCommitAfterCapacityLowered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 1)
	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)

	_, err = h.records.SetCapacity(ctx, "camp", 0)
	require.NoError(t, err)

	_, err = h.svc.Commit(ctx, hold.HoldID, player("Bumped"))
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestPublishFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.publisher.err = fmt.Errorf("broker down")
	h.event(t, "camp", 2)

	hold, err := h.svc.BeginReservation(ctx, "camp", nil)
	require.NoError(t, err)
	_, err = h.svc.Commit(ctx, hold.HoldID, player("Resilient"))
	require.NoError(t, err)
}

func TestBeginReservationStoresDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, reservation.Options{})
	h.event(t, "camp", 2)
	draft := player("Draft")

	hold, err := h.svc.BeginReservation(ctx, "camp", &draft)
	require.NoError(t, err)
	got, err := h.svc.Hold(ctx, hold.HoldID)
	require.NoError(t, err)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "Draft", got.Draft.Player.FirstName)
}
