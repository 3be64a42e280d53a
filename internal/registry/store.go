// Package registry enforces the registration record invariants on top of a
// durable key-value backend that supports conditional writes.
//
// Every mutation is read-modify-write guarded by the version token returned
// from Load. A backend reports a lost race as domain.ErrConcurrentModification;
// the store never corrects an invariant after the fact.
package registry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

// Backend is the durable store contract: keyed by event id, conditional writes
// on an opaque version.
type Backend interface {
	Load(ctx context.Context, eventID string) (domain.VersionedRecord, error)
	Insert(ctx context.Context, rec domain.RegistrationRecord) (string, error)
	Replace(ctx context.Context, rec domain.RegistrationRecord, version string) (string, error)
	List(ctx context.Context) ([]domain.RegistrationRecord, error)
	Delete(ctx context.Context, eventID string) error
}

const defaultAdminRetries = 3

type Store struct {
	backend Backend
	clock   clock.Clock
	name    string
	retries int
}

type Option func(*Store)

// WithName labels store metrics with the backend name.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, clock: clock.System{}, name: "registry", retries: defaultAdminRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) observe(op string) func() {
	start := time.Now()
	return func() {
		observability.StoreOpDuration.WithLabelValues(s.name, op).Observe(time.Since(start).Seconds())
	}
}

func (s *Store) load(ctx context.Context, eventID string) (domain.VersionedRecord, error) {
	v, err := s.backend.Load(ctx, eventID)
	if err != nil {
		return domain.VersionedRecord{}, err
	}
	if err := v.Record.Validate(); err != nil {
		return domain.VersionedRecord{}, err
	}
	return v, nil
}

func (s *Store) Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error) {
	defer s.observe("get")()
	v, err := s.load(ctx, eventID)
	if err != nil {
		return domain.RegistrationRecord{}, err
	}
	return v.Record, nil
}

// Ensure returns the record for eventID, creating it with maxCapacity when absent.
// An existing record keeps its own capacity.
func (s *Store) Ensure(ctx context.Context, eventID string, maxCapacity int) (domain.RegistrationRecord, error) {
	defer s.observe("ensure")()
	if err := domain.ValidateEventID(eventID); err != nil {
		return domain.RegistrationRecord{}, err
	}
	if maxCapacity < 0 {
		return domain.RegistrationRecord{}, errors.Wrapf(domain.ErrInvalidCapacity, "capacity %d", maxCapacity)
	}

	v, err := s.load(ctx, eventID)
	if err == nil {
		return v.Record, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RegistrationRecord{}, err
	}

	rec := domain.NewRegistrationRecord(eventID, maxCapacity, s.clock.Now())
	if _, err := s.backend.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			// lost the create race; the winner's record stands
			v, err := s.load(ctx, eventID)
			return v.Record, err
		}
		return domain.RegistrationRecord{}, err
	}
	return rec, nil
}

// AppendRegistrant commits reg to the event conditioned on the stored count
// still being expectedCount. Appending a registrant for a hold that is already
// recorded returns the stored record unchanged.
func (s *Store) AppendRegistrant(ctx context.Context, eventID string, reg domain.Registrant, expectedCount int) (domain.RegistrationRecord, error) {
	defer s.observe("append")()
	v, err := s.load(ctx, eventID)
	if err != nil {
		return domain.RegistrationRecord{}, err
	}
	rec := v.Record

	if reg.HoldID != "" {
		if _, ok := rec.FindByHold(reg.HoldID); ok {
			return rec, nil
		}
	}
	if expectedCount >= rec.MaxCapacity {
		return domain.RegistrationRecord{}, errors.Wrapf(domain.ErrCapacityExceeded,
			"event %s: %d of %d seats taken", eventID, expectedCount, rec.MaxCapacity)
	}
	if rec.CurrentRegistrations != expectedCount {
		return domain.RegistrationRecord{}, errors.Wrapf(domain.ErrConcurrentModification,
			"event %s: expected %d registrations, found %d", eventID, expectedCount, rec.CurrentRegistrations)
	}

	next := rec.Clone()
	next.Registrations = append(next.Registrations, reg)
	next.CurrentRegistrations++
	next.UpdatedAt = s.clock.Now()
	if err := next.Validate(); err != nil {
		return domain.RegistrationRecord{}, err
	}
	if _, err := s.backend.Replace(ctx, next, v.Version); err != nil {
		return domain.RegistrationRecord{}, err
	}
	return next, nil
}

// SetCapacity is an admin override. It never drops capacity below the
// committed count.
func (s *Store) SetCapacity(ctx context.Context, eventID string, maxCapacity int) (domain.RegistrationRecord, error) {
	defer s.observe("set_capacity")()
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		v, err := s.load(ctx, eventID)
		if err != nil {
			return domain.RegistrationRecord{}, err
		}
		if maxCapacity < 0 || maxCapacity < v.Record.CurrentRegistrations {
			return domain.RegistrationRecord{}, errors.Wrapf(domain.ErrInvalidCapacity,
				"event %s: capacity %d below %d committed registrations", eventID, maxCapacity, v.Record.CurrentRegistrations)
		}
		next := v.Record.Clone()
		next.MaxCapacity = maxCapacity
		next.UpdatedAt = s.clock.Now()
		_, err = s.backend.Replace(ctx, next, v.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.RegistrationRecord{}, err
		}
		lastErr = err
	}
	return domain.RegistrationRecord{}, errors.Wrapf(lastErr, "set capacity after %d attempts", s.retries)
}

func (s *Store) Delete(ctx context.Context, eventID string) error {
	defer s.observe("delete")()
	return s.backend.Delete(ctx, eventID)
}

func (s *Store) List(ctx context.Context) ([]domain.RegistrationRecord, error) {
	defer s.observe("list")()
	return s.backend.List(ctx)
}
