// Package ledger tracks time-bounded seat holds against event capacity.
//
// A hold is the only thing that reserves capacity ahead of a commit. Expiry is
// lazy: every capacity read releases holds whose TTL has passed before it
// counts, so a stale hold never blocks a new reservation even if the
// background sweep has not run.
package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

// Store persists holds. Create must be atomic with respect to other Creates for
// the same event: expire, count and insert happen as one step.
type Store interface {
	Create(ctx context.Context, hold domain.ReservationHold, limit int, now time.Time) error
	Get(ctx context.Context, holdID string) (domain.ReservationHold, error)
	Transition(ctx context.Context, holdID string, to domain.HoldStatus, reason domain.ReleaseReason, registrantID string, now time.Time) (domain.ReservationHold, error)
	CountActive(ctx context.Context, eventID string, now time.Time) (int, error)
	ExpireDue(ctx context.Context, now time.Time) ([]domain.ReservationHold, error)
}

type RecordReader interface {
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
}

type Ledger struct {
	store   Store
	records RecordReader
	clock   clock.Clock
	retries int
}

func New(store Store, records RecordReader, clk clock.Clock, retries int) *Ledger {
	if retries < 1 {
		retries = 1
	}
	return &Ledger{store: store, records: records, clock: clk, retries: retries}
}

type holdOptions struct {
	draft *domain.Registrant
}

type HoldOption func(*holdOptions)

// WithDraft stores the registrant form with the hold so a later payment
// notification can commit it.
func WithDraft(reg domain.Registrant) HoldOption {
	return func(o *holdOptions) { o.draft = &reg }
}

func (l *Ledger) CreateHold(ctx context.Context, eventID string, ttl time.Duration, opts ...HoldOption) (domain.ReservationHold, error) {
	var o holdOptions
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 0; attempt < l.retries; attempt++ {
		rec, err := l.records.Get(ctx, eventID)
		if err != nil {
			return domain.ReservationHold{}, err
		}
		// The record is read outside Create. A commit landing in between turns a
		// counted hold into a registration the limit does not see, so active holds
		// plus registrations may exceed capacity by the commits in flight. The
		// conditional append still caps registrations.
		limit := rec.MaxCapacity - rec.CurrentRegistrations
		if limit <= 0 {
			return domain.ReservationHold{}, errors.Wrapf(domain.ErrCapacityExceeded, "event %s is sold out", eventID)
		}

		now := l.clock.Now()
		hold := domain.NewHold(eventID, o.draft, now, ttl)
		err = l.store.Create(ctx, hold, limit, now)
		if err == nil {
			return hold, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.ReservationHold{}, err
		}
	}
	return domain.ReservationHold{}, errors.Wrapf(domain.ErrCapacityExceeded,
		"event %s: hold creation contended %d times", eventID, l.retries)
}

// GetHold returns the hold as of now; an active hold past its TTL is reported released.
func (l *Ledger) GetHold(ctx context.Context, holdID string) (domain.ReservationHold, error) {
	h, err := l.store.Get(ctx, holdID)
	if err != nil {
		return domain.ReservationHold{}, err
	}
	return h.Effective(l.clock.Now()), nil
}

// ReleaseHold is idempotent. changed is false when the hold was already terminal.
func (l *Ledger) ReleaseHold(ctx context.Context, holdID string, reason domain.ReleaseReason) (hold domain.ReservationHold, changed bool, err error) {
	now := l.clock.Now()
	current, err := l.store.Get(ctx, holdID)
	if err != nil {
		return domain.ReservationHold{}, false, err
	}
	if current.ExpiredAt(now) {
		reason = domain.ReasonExpired
	}
	h, err := l.store.Transition(ctx, holdID, domain.HoldReleased, reason, "", now)
	if errors.Is(err, domain.ErrHoldTerminal) {
		return h, false, nil
	}
	if err != nil {
		return domain.ReservationHold{}, false, err
	}
	observability.HoldsTotal.WithLabelValues("released_" + string(reason)).Inc()
	return h, true, nil
}

// MarkCommitted finalizes a hold whose registrant is already in the record.
// Repeating it for the same registrant is a no-op.
func (l *Ledger) MarkCommitted(ctx context.Context, holdID, registrantID string) (domain.ReservationHold, error) {
	h, err := l.store.Transition(ctx, holdID, domain.HoldCommitted, "", registrantID, l.clock.Now())
	if errors.Is(err, domain.ErrHoldTerminal) && h.Status == domain.HoldCommitted && h.RegistrantID == registrantID {
		return h, nil
	}
	return h, err
}

func (l *Ledger) ActiveHolds(ctx context.Context, eventID string) (int, error) {
	return l.store.CountActive(ctx, eventID, l.clock.Now())
}

// ExpireHolds sweeps every event and returns the holds it released.
func (l *Ledger) ExpireHolds(ctx context.Context) ([]domain.ReservationHold, error) {
	released, err := l.store.ExpireDue(ctx, l.clock.Now())
	if err != nil {
		return nil, err
	}
	observability.HoldsExpired.Add(float64(len(released)))
	return released, nil
}
