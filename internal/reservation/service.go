// Package reservation drives a hold through NoHold -> Held -> {Committed, Released}.
//
// Commit is safe to retry: at most one registrant is ever recorded per hold,
// and committed count never exceeds capacity, because the append is a
// conditional write on the count read just before it.
package reservation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/ledger"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Records interface {
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
	AppendRegistrant(ctx context.Context, eventID string, reg domain.Registrant, expectedCount int) (domain.RegistrationRecord, error)
}

type Holds interface {
	CreateHold(ctx context.Context, eventID string, ttl time.Duration, opts ...ledger.HoldOption) (domain.ReservationHold, error)
	GetHold(ctx context.Context, holdID string) (domain.ReservationHold, error)
	ReleaseHold(ctx context.Context, holdID string, reason domain.ReleaseReason) (domain.ReservationHold, bool, error)
	MarkCommitted(ctx context.Context, holdID, registrantID string) (domain.ReservationHold, error)
}

// Publisher delivers lifecycle events. Delivery is best-effort from the
// service's point of view.
type Publisher interface {
	Publish(ctx context.Context, evt domain.LifecycleEvent) error
}

type Options struct {
	HoldTTL       time.Duration
	CommitRetries int
	Timeout       time.Duration
}

type Service struct {
	records   Records
	holds     Holds
	publisher Publisher
	clock     clock.Clock
	logger    observability.Logger
	tracer    trace.Tracer
	opts      Options
	backoff   func() backoff.BackOff
}

func NewService(records Records, holds Holds, publisher Publisher, clk clock.Clock, logger observability.Logger, opts Options) *Service {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = domain.DefaultHoldTTL
	}
	if opts.CommitRetries < 1 {
		opts.CommitRetries = 3
	}
	return &Service{
		records:   records,
		holds:     holds,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer("reservation"),
		opts:      opts,
		backoff:   func() backoff.BackOff { return backoff.NewConstantBackOff(20 * time.Millisecond) },
	}
}

func (s *Service) bound(ctx context.Context, name string) (context.Context, func()) {
	cancel := func() {}
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	}
	ctx, span := s.tracer.Start(ctx, name)
	return ctx, func() {
		span.End()
		cancel()
	}
}

func fail(ctx context.Context, err error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// BeginReservation holds one seat. A full event surfaces as ErrCapacityExceeded.
func (s *Service) BeginReservation(ctx context.Context, eventID string, draft *domain.Registrant) (domain.ReservationHold, error) {
	ctx, done := s.bound(ctx, "reservation.Begin")
	defer done()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("event.id", eventID))

	var opts []ledger.HoldOption
	if draft != nil {
		opts = append(opts, ledger.WithDraft(*draft))
	}
	hold, err := s.holds.CreateHold(ctx, eventID, s.opts.HoldTTL, opts...)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			observability.HoldsTotal.WithLabelValues("sold_out").Inc()
		}
		return domain.ReservationHold{}, fail(ctx, err)
	}
	observability.HoldsTotal.WithLabelValues("created").Inc()
	s.publish(ctx, domain.LifecycleEvent{
		Type:       domain.LifecycleHoldCreated,
		EventID:    hold.EventID,
		HoldID:     hold.HoldID,
		OccurredAt: hold.CreatedAt,
	})
	return hold, nil
}

// Hold returns the hold as of now, with lazy expiry applied.
func (s *Service) Hold(ctx context.Context, holdID string) (domain.ReservationHold, error) {
	ctx, done := s.bound(ctx, "reservation.Hold")
	defer done()
	return s.holds.GetHold(ctx, holdID)
}

// Commit converts a live hold into a registrant. Committing an already
// committed hold returns the recorded registrant.
func (s *Service) Commit(ctx context.Context, holdID string, reg domain.Registrant) (domain.Registrant, error) {
	ctx, done := s.bound(ctx, "reservation.Commit")
	defer done()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("hold.id", holdID))
	logger := observability.LoggerFromContext(ctx, s.logger).WithField("hold_id", holdID)

	hold, err := s.holds.GetHold(ctx, holdID)
	if err != nil {
		return domain.Registrant{}, fail(ctx, err)
	}
	switch hold.Status {
	case domain.HoldCommitted:
		observability.CommitsTotal.WithLabelValues("replayed").Inc()
		return s.recorded(ctx, hold)
	case domain.HoldReleased:
		reg, ok, err := s.findRecorded(ctx, hold)
		if err != nil {
			return domain.Registrant{}, fail(ctx, err)
		}
		if ok {
			// an earlier attempt stored the registrant before the TTL passed
			if err := s.markCommitted(ctx, holdID, reg.ID); err != nil {
				logger.WithError(err).Warn("mark hold committed")
			}
			observability.CommitsTotal.WithLabelValues("replayed").Inc()
			return reg, nil
		}
		if hold.Reason == domain.ReasonExpired {
			// persist the lazily observed expiry
			if err := s.release(ctx, holdID, domain.ReasonExpired); err != nil {
				logger.WithError(err).Warn("persist expired hold")
			}
		}
		observability.CommitsTotal.WithLabelValues("expired").Inc()
		return domain.Registrant{}, fail(ctx, errors.Wrapf(domain.ErrHoldExpired, "hold %s is %s (%s)", holdID, hold.Status, hold.Reason))
	}

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	reg.HoldID = holdID
	reg.CommittedAt = s.clock.Now()

	committed, err := s.appendWithRetry(ctx, hold.EventID, reg)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			observability.CommitsTotal.WithLabelValues("sold_out").Inc()
			if relErr := s.release(ctx, holdID, domain.ReasonCapacity); relErr != nil {
				logger.WithError(relErr).Warn("release hold after capacity failure")
			}
		}
		return domain.Registrant{}, fail(ctx, err)
	}

	if err := s.markCommitted(ctx, holdID, committed.ID); err != nil {
		// the registrant is durable; the sweeper drops the hold without announcing it
		logger.WithError(err).Warn("mark hold committed")
	}
	observability.CommitsTotal.WithLabelValues("ok").Inc()
	s.publish(ctx, domain.LifecycleEvent{
		Type:       domain.LifecycleRegistrationCommitted,
		EventID:    hold.EventID,
		HoldID:     holdID,
		Registrant: &committed,
		OccurredAt: committed.CommittedAt,
	})
	return committed, nil
}

// appendWithRetry re-reads the record and retries the conditional append on
// conflicts, up to CommitRetries attempts.
func (s *Service) appendWithRetry(ctx context.Context, eventID string, reg domain.Registrant) (domain.Registrant, error) {
	for attempt := 0; attempt < s.opts.CommitRetries; attempt++ {
		rec, err := s.records.Get(ctx, eventID)
		if err != nil {
			return domain.Registrant{}, err
		}
		if existing, ok := rec.FindByHold(reg.HoldID); ok {
			return existing, nil
		}
		rec, err = s.records.AppendRegistrant(ctx, eventID, reg, rec.CurrentRegistrations)
		if err == nil {
			stored, _ := rec.FindByHold(reg.HoldID)
			return stored, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.Registrant{}, err
		}
		observability.CommitConflicts.Inc()
	}
	return domain.Registrant{}, errors.Wrapf(domain.ErrCapacityExceeded,
		"event %s: commit contended %d times", eventID, s.opts.CommitRetries)
}

// markCommitted retries transient failures. A hold another path already
// finalized is not retried.
func (s *Service) markCommitted(ctx context.Context, holdID, registrantID string) error {
	_, err := backoff.Retry(ctx, func() (domain.ReservationHold, error) {
		h, err := s.holds.MarkCommitted(ctx, holdID, registrantID)
		if errors.Is(err, domain.ErrHoldTerminal) || errors.Is(err, domain.ErrHoldNotFound) {
			return h, backoff.Permanent(err)
		}
		return h, err
	}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(3))
	return err
}

func (s *Service) findRecorded(ctx context.Context, hold domain.ReservationHold) (domain.Registrant, bool, error) {
	rec, err := s.records.Get(ctx, hold.EventID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Registrant{}, false, nil
	}
	if err != nil {
		return domain.Registrant{}, false, err
	}
	reg, ok := rec.FindByHold(hold.HoldID)
	return reg, ok, nil
}

func (s *Service) recorded(ctx context.Context, hold domain.ReservationHold) (domain.Registrant, error) {
	rec, err := s.records.Get(ctx, hold.EventID)
	if err != nil {
		return domain.Registrant{}, fail(ctx, err)
	}
	reg, ok := rec.FindByHold(hold.HoldID)
	if !ok {
		return domain.Registrant{}, fail(ctx, errors.Wrapf(domain.ErrCorruptRecord,
			"hold %s is committed but event %s has no registrant for it", hold.HoldID, hold.EventID))
	}
	return reg, nil
}

// Release always succeeds for unknown or already terminal holds.
func (s *Service) Release(ctx context.Context, holdID string, reason domain.ReleaseReason) error {
	ctx, done := s.bound(ctx, "reservation.Release")
	defer done()

	if err := s.release(ctx, holdID, reason); err != nil {
		return fail(ctx, err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, holdID string, reason domain.ReleaseReason) error {
	hold, changed, err := s.holds.ReleaseHold(ctx, holdID, reason)
	if errors.Is(err, domain.ErrHoldNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, domain.LifecycleEvent{
			Type:       domain.LifecycleHoldReleased,
			EventID:    hold.EventID,
			HoldID:     holdID,
			Reason:     hold.Reason,
			OccurredAt: s.clock.Now(),
		})
	}
	return nil
}

func (s *Service) publish(ctx context.Context, evt domain.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		observability.LoggerFromContext(ctx, s.logger).
			WithError(err).
			WithFields(map[string]interface{}{"type": evt.Type, "hold_id": evt.HoldID}).
			Warn("publish lifecycle event")
	}
}
