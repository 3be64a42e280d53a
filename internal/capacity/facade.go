// Package capacity answers read-only availability questions by combining
// committed registrations with live holds.
package capacity

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"golang.org/x/sync/errgroup"
)

const ReasonSoldOut = "SoldOut"

type RecordReader interface {
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
}

// HoldCounter counts active holds, applying lazy expiry first.
type HoldCounter interface {
	ActiveHolds(ctx context.Context, eventID string) (int, error)
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Availability struct {
	EventID              string `json:"eventId"`
	MaxCapacity          int    `json:"maxCapacity"`
	CurrentRegistrations int    `json:"currentRegistrations"`
	ActiveHolds          int    `json:"activeHolds"`
	RemainingSeats       int    `json:"remainingSeats"`
	IsSoldOut            bool   `json:"isSoldOut"`
}

type Facade struct {
	records RecordReader
	holds   HoldCounter
}

func NewFacade(records RecordReader, holds HoldCounter) *Facade {
	return &Facade{records: records, holds: holds}
}

func (f *Facade) Availability(ctx context.Context, eventID string) (Availability, error) {
	rec, err := f.records.Get(ctx, eventID)
	if err != nil {
		return Availability{}, err
	}
	active, err := f.holds.ActiveHolds(ctx, eventID)
	if err != nil {
		return Availability{}, err
	}
	return Compute(eventID, rec.MaxCapacity, rec.CurrentRegistrations, active), nil
}

// Compute derives availability from raw counts. Remaining seats never go negative.
func Compute(eventID string, maxCapacity, committed, active int) Availability {
	remaining := maxCapacity - committed - active
	if remaining < 0 {
		remaining = 0
	}
	return Availability{
		EventID:              eventID,
		MaxCapacity:          maxCapacity,
		CurrentRegistrations: committed,
		ActiveHolds:          active,
		RemainingSeats:       remaining,
		IsSoldOut:            remaining == 0,
	}
}

func (a Availability) Decision() Decision {
	if a.RemainingSeats == 0 {
		return Decision{Allowed: false, Reason: ReasonSoldOut}
	}
	return Decision{Allowed: true}
}

func (f *Facade) CanRegister(ctx context.Context, eventID string) (Decision, error) {
	a, err := f.Availability(ctx, eventID)
	if err != nil {
		return Decision{}, err
	}
	return a.Decision(), nil
}

func (f *Facade) RemainingSeats(ctx context.Context, eventID string) (int, error) {
	a, err := f.Availability(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return a.RemainingSeats, nil
}

type EventAvailability struct {
	Event        domain.Event `json:"event"`
	Availability Availability `json:"availability"`
}

// ForEvents reports availability for catalog events concurrently. An event
// nobody has tried to reserve yet has no record and is fully available.
func (f *Facade) ForEvents(ctx context.Context, events []domain.Event) ([]EventAvailability, error) {
	out := make([]EventAvailability, len(events))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ev := range events {
		g.Go(func() error {
			a, err := f.Availability(ctx, ev.ID)
			if errors.Is(err, domain.ErrNotFound) {
				a, err = Compute(ev.ID, ev.MaxCapacity, 0, 0), nil
			}
			if err != nil {
				return err
			}
			out[i] = EventAvailability{Event: ev, Availability: a}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
