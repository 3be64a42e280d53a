package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

type RegistrationRecord struct {
	EventID              string       `json:"eventId"`
	MaxCapacity          int          `json:"maxCapacity"`
	CurrentRegistrations int          `json:"currentRegistrations"`
	Registrations        []Registrant `json:"registrations"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// VersionedRecord pairs a record with the backend's opaque version token
// (row version, object ETag). Conditional writes compare against it.
type VersionedRecord struct {
	Record  RegistrationRecord
	Version string
}

func NewRegistrationRecord(eventID string, maxCapacity int, now time.Time) RegistrationRecord {
	return RegistrationRecord{
		EventID:       eventID,
		MaxCapacity:   maxCapacity,
		Registrations: []Registrant{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r RegistrationRecord) IsSoldOut() bool {
	return r.CurrentRegistrations >= r.MaxCapacity
}

func (r RegistrationRecord) Validate() error {
	switch {
	case r.EventID == "":
		return errors.Wrap(ErrCorruptRecord, "empty event id")
	case r.MaxCapacity < 0:
		return errors.Wrapf(ErrCorruptRecord, "event %s: negative capacity %d", r.EventID, r.MaxCapacity)
	case r.CurrentRegistrations != len(r.Registrations):
		return errors.Wrapf(ErrCorruptRecord, "event %s: count %d does not match %d registrants",
			r.EventID, r.CurrentRegistrations, len(r.Registrations))
	case r.CurrentRegistrations > r.MaxCapacity:
		return errors.Wrapf(ErrCorruptRecord, "event %s: %d registrants exceed capacity %d",
			r.EventID, r.CurrentRegistrations, r.MaxCapacity)
	}
	return nil
}

func (r RegistrationRecord) FindByHold(holdID string) (Registrant, bool) {
	for _, reg := range r.Registrations {
		if reg.HoldID == holdID {
			return reg, true
		}
	}
	return Registrant{}, false
}

// Clone returns a copy that shares no slice storage with r.
func (r RegistrationRecord) Clone() RegistrationRecord {
	out := r
	out.Registrations = make([]Registrant, len(r.Registrations))
	copy(out.Registrations, r.Registrations)
	return out
}
