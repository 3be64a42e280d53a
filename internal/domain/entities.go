package domain

import "time"

type EventType string

const (
	EventTypeCamp   EventType = "camp"
	EventTypeLesson EventType = "lesson"
)

// Event is read from the calendar and never written by the reservation core.
type Event struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	StartsAt    time.Time `json:"startsAt" bson:"starts_at"`
	PriceCents  int64     `json:"priceCents" bson:"price_cents"`
	Type        EventType `json:"eventType" bson:"event_type"`
	MaxCapacity int       `json:"maxCapacity" bson:"max_capacity"`
}

type Player struct {
	FirstName   string `json:"firstName" validate:"required,max=80"`
	LastName    string `json:"lastName" validate:"required,max=80"`
	DateOfBirth string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Position    string `json:"position,omitempty" validate:"omitempty,oneof=forward defense goalie"`
	SkillLevel  string `json:"skillLevel,omitempty" validate:"omitempty,max=40"`
}

type Contact struct {
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone" validate:"required,min=7,max=20"`
	Relationship string `json:"relationship,omitempty" validate:"omitempty,max=40"`
}

type Registrant struct {
	ID               string    `json:"id"`
	HoldID           string    `json:"holdId"`
	Player           Player    `json:"player" validate:"required"`
	Guardian         Contact   `json:"guardian" validate:"required"`
	EmergencyContact Contact   `json:"emergencyContact" validate:"required"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	AmountPaidCents  int64     `json:"amountPaidCents,omitempty"`
	CommittedAt      time.Time `json:"committedAt"`
}

type LifecycleType string

const (
	LifecycleHoldCreated           LifecycleType = "hold.created"
	LifecycleHoldReleased          LifecycleType = "hold.released"
	LifecycleRegistrationCommitted LifecycleType = "registration.committed"
)

// LifecycleEvent is the payload published for every hold and registration transition.
type LifecycleEvent struct {
	Type       LifecycleType `json:"type"`
	EventID    string        `json:"eventId"`
	HoldID     string        `json:"holdId"`
	Reason     ReleaseReason `json:"reason,omitempty"`
	Registrant *Registrant   `json:"registrant,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}
