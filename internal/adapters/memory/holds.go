package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

type HoldStore struct {
	mu    sync.Mutex
	holds map[string]domain.ReservationHold
}

func NewHoldStore() *HoldStore {
	return &HoldStore{holds: make(map[string]domain.ReservationHold)}
}

// expireLocked releases active holds past their TTL; eventID "" means all events.
func (s *HoldStore) expireLocked(eventID string, now time.Time) []domain.ReservationHold {
	var released []domain.ReservationHold
	for id, h := range s.holds {
		if eventID != "" && h.EventID != eventID {
			continue
		}
		if h.ExpiredAt(now) {
			h = h.Effective(now)
			s.holds[id] = h
			released = append(released, h)
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i].ExpiresAt.Before(released[j].ExpiresAt) })
	return released
}

func (s *HoldStore) activeLocked(eventID string) int {
	n := 0
	for _, h := range s.holds {
		if h.EventID == eventID && h.Status == domain.HoldActive {
			n++
		}
	}
	return n
}

func (s *HoldStore) Create(ctx context.Context, hold domain.ReservationHold, limit int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(hold.EventID, now)
	if active := s.activeLocked(hold.EventID); active >= limit {
		return errors.Wrapf(domain.ErrCapacityExceeded, "event %s: %d active holds, limit %d", hold.EventID, active, limit)
	}
	if _, ok := s.holds[hold.HoldID]; ok {
		return errors.Wrapf(domain.ErrConcurrentModification, "hold %s exists", hold.HoldID)
	}
	s.holds[hold.HoldID] = hold
	return nil
}

func (s *HoldStore) Get(ctx context.Context, holdID string) (domain.ReservationHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ReservationHold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	return h, nil
}

func (s *HoldStore) Transition(ctx context.Context, holdID string, to domain.HoldStatus, reason domain.ReleaseReason, registrantID string, now time.Time) (domain.ReservationHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ReservationHold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	if h.Terminal() {
		return h, errors.Wrapf(domain.ErrHoldTerminal, "hold %s is %s", holdID, h.Status)
	}
	h.Status = to
	h.Reason = reason
	h.RegistrantID = registrantID
	s.holds[holdID] = h
	return h, nil
}

func (s *HoldStore) CountActive(ctx context.Context, eventID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(eventID, now)
	return s.activeLocked(eventID), nil
}

func (s *HoldStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.ReservationHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked("", now), nil
}
