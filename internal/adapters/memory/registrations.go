// Package memory holds process-local backends for development and tests.
// They honour the same conditional-write contracts as the durable adapters.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

type registrationEntry struct {
	rec     domain.RegistrationRecord
	version int
}

type RegistrationStore struct {
	mu      sync.Mutex
	records map[string]registrationEntry
}

func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{records: make(map[string]registrationEntry)}
}

func (s *RegistrationStore) Load(ctx context.Context, eventID string) (domain.VersionedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[eventID]
	if !ok {
		return domain.VersionedRecord{}, errors.Wrapf(domain.ErrNotFound, "registration record %s", eventID)
	}
	return domain.VersionedRecord{Record: e.rec.Clone(), Version: strconv.Itoa(e.version)}, nil
}

func (s *RegistrationStore) Insert(ctx context.Context, rec domain.RegistrationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.EventID]; ok {
		return "", errors.Wrapf(domain.ErrConcurrentModification, "registration record %s exists", rec.EventID)
	}
	s.records[rec.EventID] = registrationEntry{rec: rec.Clone(), version: 1}
	return "1", nil
}

func (s *RegistrationStore) Replace(ctx context.Context, rec domain.RegistrationRecord, version string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[rec.EventID]
	if !ok {
		return "", errors.Wrapf(domain.ErrNotFound, "registration record %s", rec.EventID)
	}
	if strconv.Itoa(e.version) != version {
		return "", errors.Wrapf(domain.ErrConcurrentModification, "registration record %s: version %s is stale", rec.EventID, version)
	}
	e.rec = rec.Clone()
	e.version++
	s.records[rec.EventID] = e
	return strconv.Itoa(e.version), nil
}

func (s *RegistrationStore) List(ctx context.Context) ([]domain.RegistrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RegistrationRecord, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *RegistrationStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[eventID]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "registration record %s", eventID)
	}
	delete(s.records, eventID)
	return nil
}
