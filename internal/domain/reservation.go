package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHoldTTL matches the checkout session lifetime.
const DefaultHoldTTL = 30 * time.Minute

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
)

type ReleaseReason string

const (
	ReasonExpired       ReleaseReason = "expired"
	ReasonCancelled     ReleaseReason = "cancelled"
	ReasonPaymentFailed ReleaseReason = "payment_failed"
	ReasonCapacity      ReleaseReason = "capacity"
)

type ReservationHold struct {
	HoldID       string        `json:"holdId"`
	EventID      string        `json:"eventId"`
	Status       HoldStatus    `json:"status"`
	Reason       ReleaseReason `json:"reason,omitempty"`
	RegistrantID string        `json:"registrantId,omitempty"`
	Draft        *Registrant   `json:"draft,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

func NewHold(eventID string, draft *Registrant, now time.Time, ttl time.Duration) ReservationHold {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return ReservationHold{
		HoldID:    uuid.NewString(),
		EventID:   eventID,
		Status:    HoldActive,
		Draft:     draft,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (h ReservationHold) Terminal() bool {
	return h.Status == HoldCommitted || h.Status == HoldReleased
}

// ExpiredAt reports whether an active hold has outlived its TTL at now.
func (h ReservationHold) ExpiredAt(now time.Time) bool {
	return h.Status == HoldActive && !now.Before(h.ExpiresAt)
}

// Effective applies lazy expiry to the hold as seen at now.
func (h ReservationHold) Effective(now time.Time) ReservationHold {
	if h.ExpiredAt(now) {
		h.Status = HoldReleased
		h.Reason = ReasonExpired
	}
	return h
}
