// Package payment describes the checkout provider the reservation flow hands
// off to once a hold exists.
package payment

import (
	"context"
	"time"
)

type CheckoutRequest struct {
	HoldID        string
	EventID       string
	EventName     string
	AmountCents   int64
	CustomerEmail string
	ExpiresAt     time.Time
}

type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type NotificationKind string

const (
	NotificationCompleted NotificationKind = "completed"
	NotificationExpired   NotificationKind = "expired"
	NotificationFailed    NotificationKind = "failed"
	NotificationIgnored   NotificationKind = "ignored"
)

// Notification is a verified provider callback reduced to what the
// reservation flow acts on.
type Notification struct {
	Kind             NotificationKind
	HoldID           string
	EventID          string
	SessionID        string
	PaymentReference string
	AmountCents      int64
}

type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	ParseNotification(payload []byte, signature string) (Notification, error)
}
