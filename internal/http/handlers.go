package http

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/rink-registrations/internal/capacity"
	"github.com/robertarktes/rink-registrations/internal/catalog"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/payment"
	"golang.org/x/sync/errgroup"
)

type Reservations interface {
	BeginReservation(ctx context.Context, eventID string, draft *domain.Registrant) (domain.ReservationHold, error)
	Hold(ctx context.Context, holdID string) (domain.ReservationHold, error)
	Commit(ctx context.Context, holdID string, reg domain.Registrant) (domain.Registrant, error)
	Release(ctx context.Context, holdID string, reason domain.ReleaseReason) error
}

type Registry interface {
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
	Ensure(ctx context.Context, eventID string, maxCapacity int) (domain.RegistrationRecord, error)
	List(ctx context.Context) ([]domain.RegistrationRecord, error)
	SetCapacity(ctx context.Context, eventID string, maxCapacity int) (domain.RegistrationRecord, error)
	Delete(ctx context.Context, eventID string) error
}

type Capacity interface {
	Availability(ctx context.Context, eventID string) (capacity.Availability, error)
	ForEvents(ctx context.Context, events []domain.Event) ([]capacity.EventAvailability, error)
}

// Check is a readiness probe for one dependency.
type Check func(ctx context.Context) error

type Deps struct {
	Reservations Reservations
	Registry     Registry
	Capacity     Capacity
	Catalog      catalog.Source
	Payments     payment.Provider
	Clock        clock.Clock
	Logger       observability.Logger
	Checks       map[string]Check
}

type Handlers struct {
	Deps
}

func NewHandlers(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = observability.NewNopLogger()
	}
	return &Handlers{Deps: d}
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	return observability.LoggerFromContext(r.Context(), h.Logger)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Catalog.ListUpcoming(r.Context(), h.Clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Capacity.ForEvents(r.Context(), events)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []capacity.EventAvailability{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

type capacityResponse struct {
	EventID        string `json:"eventId"`
	CanRegister    bool   `json:"canRegister"`
	Reason         string `json:"reason,omitempty"`
	RemainingSeats int    `json:"remainingSeats"`
	MaxCapacity    int    `json:"maxCapacity"`
	IsSoldOut      bool   `json:"isSoldOut"`
}

func (h *Handlers) EventCapacity(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if err := domain.ValidateEventID(eventID); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Capacity.Availability(r.Context(), eventID)
	if errors.Is(err, domain.ErrNotFound) {
		ev, evErr := h.Catalog.Get(r.Context(), eventID)
		if evErr != nil {
			writeError(w, r, evErr)
			return
		}
		a, err = capacity.Compute(eventID, ev.MaxCapacity, 0, 0), nil
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	d := a.Decision()
	writeJSON(w, http.StatusOK, capacityResponse{
		EventID:        eventID,
		CanRegister:    d.Allowed,
		Reason:         d.Reason,
		RemainingSeats: a.RemainingSeats,
		MaxCapacity:    a.MaxCapacity,
		IsSoldOut:      a.IsSoldOut,
	})
}

type reservationRequest struct {
	Player           domain.Player  `json:"player"`
	Guardian         domain.Contact `json:"guardian"`
	EmergencyContact domain.Contact `json:"emergencyContact"`
}

type reservationResponse struct {
	HoldID           string            `json:"holdId"`
	EventID          string            `json:"eventId"`
	Status           domain.HoldStatus `json:"status"`
	Reason           string            `json:"reason,omitempty"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	SecondsRemaining int64             `json:"secondsRemaining"`
	CheckoutURL      string            `json:"checkoutUrl,omitempty"`
	SessionID        string            `json:"sessionId,omitempty"`
}

func (h *Handlers) holdResponse(hold domain.ReservationHold) reservationResponse {
	remaining := int64(0)
	if hold.Status == domain.HoldActive {
		remaining = int64(math.Ceil(hold.ExpiresAt.Sub(h.Clock.Now()).Seconds()))
		if remaining < 0 {
			remaining = 0
		}
	}
	return reservationResponse{
		HoldID:           hold.HoldID,
		EventID:          hold.EventID,
		Status:           hold.Status,
		Reason:           string(hold.Reason),
		ExpiresAt:        hold.ExpiresAt,
		SecondsRemaining: remaining,
	}
}

// CreateReservation validates the registrant form, holds a seat and opens a
// checkout session. A checkout failure gives the seat back.
func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if err := domain.ValidateEventID(eventID); err != nil {
		writeError(w, r, err)
		return
	}
	var req reservationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft := domain.Registrant{Player: req.Player, Guardian: req.Guardian, EmergencyContact: req.EmergencyContact}
	if err := domain.ValidateStruct(draft); err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := h.Catalog.Get(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Registry.Ensure(r.Context(), eventID, ev.MaxCapacity); err != nil {
		writeError(w, r, err)
		return
	}

	hold, err := h.Reservations.BeginReservation(r.Context(), eventID, &draft)
	if err != nil {
		writeError(w, r, err)
		return
	}

	co, err := h.Payments.CreateCheckout(r.Context(), payment.CheckoutRequest{
		HoldID:        hold.HoldID,
		EventID:       eventID,
		EventName:     ev.Name,
		AmountCents:   ev.PriceCents,
		CustomerEmail: draft.Guardian.Email,
		ExpiresAt:     hold.ExpiresAt,
	})
	if err != nil {
		if relErr := h.Reservations.Release(r.Context(), hold.HoldID, domain.ReasonPaymentFailed); relErr != nil {
			h.log(r).WithError(relErr).Warn("release hold after checkout failure")
		}
		if !errors.Is(err, domain.ErrPaymentProvider) {
			err = errors.WithSecondaryError(errors.Wrap(domain.ErrPaymentProvider, "checkout"), err)
		}
		writeError(w, r, err)
		return
	}

	resp := h.holdResponse(hold)
	resp.CheckoutURL = co.URL
	resp.SessionID = co.SessionID
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	hold, err := h.Reservations.Hold(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.holdResponse(hold))
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.Reservations.Release(r.Context(), chi.URLParam(r, "holdID"), domain.ReasonCancelled); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PaymentWebhook acknowledges every verified notification it cannot act on,
// so the provider stops redelivering it. Only transient failures return 5xx.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "read body: %v", err))
		return
	}
	n, err := h.Payments.ParseNotification(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	log := h.log(r).WithFields(map[string]interface{}{"hold_id": n.HoldID, "session_id": n.SessionID, "kind": n.Kind})

	switch n.Kind {
	case payment.NotificationCompleted:
		h.commitPaid(w, r, n, log)
	case payment.NotificationExpired, payment.NotificationFailed:
		reason := domain.ReasonCancelled
		if n.Kind == payment.NotificationFailed {
			reason = domain.ReasonPaymentFailed
		}
		if err := h.Reservations.Release(r.Context(), n.HoldID, reason); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handlers) commitPaid(w http.ResponseWriter, r *http.Request, n payment.Notification, log observability.Logger) {
	hold, err := h.Reservations.Hold(r.Context(), n.HoldID)
	if errors.Is(err, domain.ErrHoldNotFound) {
		log.Error("payment received for unknown hold; refund required")
		writeJSON(w, http.StatusOK, map[string]string{"status": "refund_required"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	var reg domain.Registrant
	if hold.Draft != nil {
		reg = *hold.Draft
	}
	reg.PaymentReference = n.PaymentReference
	reg.AmountPaidCents = n.AmountCents

	committed, err := h.Reservations.Commit(r.Context(), n.HoldID, reg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "committed", "registrantId": committed.ID})
	case errors.Is(err, domain.ErrHoldExpired), errors.Is(err, domain.ErrCapacityExceeded):
		log.WithError(err).Error("payment received but seat not available; refund required")
		writeJSON(w, http.StatusOK, map[string]string{"status": "refund_required"})
	default:
		writeError(w, r, err)
	}
}

func (h *Handlers) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.RegistrationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Registry.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type capacityRequest struct {
	MaxCapacity *int `json:"maxCapacity"`
}

func (h *Handlers) SetCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MaxCapacity == nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "maxCapacity is required"))
		return
	}
	rec, err := h.Registry.SetCapacity(r.Context(), chi.URLParam(r, "eventID"), *req.MaxCapacity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.log(r).WithFields(map[string]interface{}{"event_id": rec.EventID, "max_capacity": rec.MaxCapacity}).Info("capacity changed")
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if err := h.Registry.Delete(r.Context(), eventID); err != nil {
		writeError(w, r, err)
		return
	}
	h.log(r).WithField("event_id", eventID).Warn("registration record deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz runs every dependency check in parallel and reports each result.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	failed := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		check := h.Checks[name]
		g.Go(func() error {
			failed[i] = check(ctx)
			return nil
		})
	}
	g.Wait()

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for i, name := range names {
		results[name] = "ok"
		if failed[i] != nil {
			results[name] = failed[i].Error()
			status = http.StatusServiceUnavailable
		}
	}
	if status != http.StatusOK {
		h.log(r).WithField("checks", results).Warn("not ready")
	}
	writeJSON(w, status, results)
}
