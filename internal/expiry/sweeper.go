// Package expiry periodically releases holds whose TTL has passed. Reads
// already apply expiry lazily; the sweep exists so released holds are
// announced even when nobody looks at the event again.
package expiry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

type Ledger interface {
	ExpireHolds(ctx context.Context) ([]domain.ReservationHold, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.LifecycleEvent) error
}

type RecordReader interface {
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
}

type Sweeper struct {
	ledger    Ledger
	publisher Publisher
	clock     clock.Clock
	logger    observability.Logger
	interval  time.Duration
	backoff   func() backoff.BackOff
	records   RecordReader
}

type Option func(*Sweeper)

// WithRecords suppresses announcements for holds whose registrant was
// recorded but never marked on the hold.
func WithRecords(r RecordReader) Option {
	return func(s *Sweeper) { s.records = r }
}

func NewSweeper(ledger Ledger, publisher Publisher, clk clock.Clock, logger observability.Logger, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Sweeper{
		ledger:    ledger,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		interval:  interval,
		backoff:   func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("expiry sweep failed")
				continue
			}
			if n > 0 {
				s.logger.WithField("released", n).Info("expired holds released")
			}
		}
	}
}

// RunOnce releases due holds and announces each one. Publish failures are
// retried briefly and then logged; the holds stay released either way.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	released, err := s.ledger.ExpireHolds(ctx)
	if err != nil {
		return 0, err
	}
	for _, h := range released {
		if s.registered(ctx, h) {
			s.logger.WithField("hold_id", h.HoldID).Debug("expired hold already registered")
			continue
		}
		ev := domain.LifecycleEvent{
			Type:       domain.LifecycleHoldReleased,
			EventID:    h.EventID,
			HoldID:     h.HoldID,
			Reason:     domain.ReasonExpired,
			OccurredAt: s.clock.Now(),
		}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.publisher.Publish(ctx, ev)
		}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(3))
		if err != nil {
			s.logger.WithError(err).WithField("hold_id", h.HoldID).Warn("expired hold not announced")
		}
	}
	return len(released), nil
}

func (s *Sweeper) registered(ctx context.Context, h domain.ReservationHold) bool {
	if s.records == nil {
		return false
	}
	rec, err := s.records.Get(ctx, h.EventID)
	if err != nil {
		return false
	}
	_, ok := rec.FindByHold(h.HoldID)
	return ok
}
