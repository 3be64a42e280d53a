package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/payment"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Stripe rejects checkout sessions that expire sooner than this.
const minSessionLifetime = 30*time.Minute + time.Minute

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type Provider struct {
	sessions *session.Client
	cfg      Config
	now      func() time.Time
}

func NewProvider(cfg Config) *Provider {
	return &Provider{
		sessions: &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey},
		cfg:      cfg,
		now:      time.Now,
	}
}

func (p *Provider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	expires := req.ExpiresAt
	if floor := p.now().Add(minSessionLifetime); expires.Before(floor) {
		expires = floor
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.HoldID),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ExpiresAt:         stripe.Int64(expires.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.cfg.Currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.EventName),
				},
			},
		}},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("hold_id", req.HoldID)
	params.AddMetadata("event_id", req.EventID)

	s, err := p.sessions.New(params)
	if err != nil {
		return payment.Checkout{}, errors.WithSecondaryError(errors.Wrap(domain.ErrPaymentProvider, "create checkout session"), err)
	}
	return payment.Checkout{SessionID: s.ID, URL: s.URL}, nil
}

func (p *Provider) ParseNotification(payload []byte, signature string) (payment.Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return payment.Notification{}, errors.Wrapf(domain.ErrInvalidInput, "webhook signature: %v", err)
	}

	var kind payment.NotificationKind
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		kind = payment.NotificationCompleted
	case "checkout.session.expired":
		kind = payment.NotificationExpired
	case "checkout.session.async_payment_failed":
		kind = payment.NotificationFailed
	default:
		return payment.Notification{Kind: payment.NotificationIgnored}, nil
	}

	var s stripe.CheckoutSession
	if event.Data == nil {
		return payment.Notification{}, errors.Wrap(domain.ErrInvalidInput, "webhook event has no data")
	}
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return payment.Notification{}, errors.Wrapf(domain.ErrInvalidInput, "decode checkout session: %v", err)
	}
	// completed with an unpaid status means an async method is still pending
	if kind == payment.NotificationCompleted && s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		s.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		kind = payment.NotificationIgnored
	}

	n := payment.Notification{
		Kind:             kind,
		HoldID:           s.Metadata["hold_id"],
		EventID:          s.Metadata["event_id"],
		SessionID:        s.ID,
		PaymentReference: s.ID,
		AmountCents:      s.AmountTotal,
	}
	if n.HoldID == "" {
		n.HoldID = s.ClientReferenceID
	}
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		n.PaymentReference = s.PaymentIntent.ID
	}
	if n.HoldID == "" && kind != payment.NotificationIgnored {
		return payment.Notification{}, errors.Wrapf(domain.ErrInvalidInput, "session %s carries no hold id", s.ID)
	}
	return n, nil
}
