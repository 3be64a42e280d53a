package payment

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

// Fake is an in-process Provider for local runs and tests. Notifications are
// the JSON encoding of Notification and must carry Secret as their signature.
type Fake struct {
	Secret  string
	BaseURL string
	Err     error

	mu       sync.Mutex
	requests []CheckoutRequest
}

func (f *Fake) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if f.Err != nil {
		return Checkout{}, errors.WithSecondaryError(errors.Wrap(domain.ErrPaymentProvider, "fake checkout"), f.Err)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return Checkout{SessionID: "cs_" + req.HoldID, URL: f.BaseURL + "/checkout/" + req.HoldID}, nil
}

func (f *Fake) ParseNotification(payload []byte, signature string) (Notification, error) {
	if signature != f.Secret {
		return Notification{}, errors.Wrap(domain.ErrInvalidInput, "bad signature")
	}
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, errors.Wrapf(domain.ErrInvalidInput, "decode notification: %v", err)
	}
	return n, nil
}

func (f *Fake) Requests() []CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CheckoutRequest(nil), f.requests...)
}
