// Package notify consumes lifecycle events: every event is audited, and a
// committed registration triggers a confirmation email to the guardian.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

type Auditor interface {
	Record(ctx context.Context, ev domain.LifecycleEvent) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Worker struct {
	auditor  Auditor
	mailer   Mailer
	logger   observability.Logger
	maxTries uint
	backoff  func() backoff.BackOff
}

type Option func(*Worker)

func WithMaxTries(n uint) Option {
	return func(w *Worker) { w.maxTries = n }
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(w *Worker) { w.backoff = f }
}

func NewWorker(auditor Auditor, mailer Mailer, logger observability.Logger, opts ...Option) *Worker {
	w := &Worker{
		auditor:  auditor,
		mailer:   mailer,
		logger:   logger,
		maxTries: 5,
		backoff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle always acks. A message that cannot be audited or emailed is logged,
// not redelivered.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			w.logger.WithError(err).Warn("ack failed")
		}
	}()

	var ev domain.LifecycleEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		w.logger.WithError(err).WithField("message_id", d.MessageId).Error("undecodable lifecycle event")
		return
	}
	log := w.logger.WithFields(map[string]interface{}{
		"type":     ev.Type,
		"event_id": ev.EventID,
		"hold_id":  ev.HoldID,
	})

	if err := w.auditor.Record(ctx, ev); err != nil {
		log.WithError(err).Error("audit failed")
	}

	if ev.Type != domain.LifecycleRegistrationCommitted || ev.Registrant == nil {
		return
	}
	to := ev.Registrant.Guardian.Email
	if to == "" || w.mailer == nil {
		observability.EmailsTotal.WithLabelValues("skipped").Inc()
		return
	}
	subject, body := confirmation(ev)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.mailer.Send(ctx, to, subject, body)
	}, backoff.WithBackOff(w.backoff()), backoff.WithMaxTries(w.maxTries), backoff.WithMaxElapsedTime(time.Minute))
	if err != nil {
		observability.EmailsTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Error("confirmation email failed")
		return
	}
	observability.EmailsTotal.WithLabelValues("sent").Inc()
}

func confirmation(ev domain.LifecycleEvent) (subject, body string) {
	r := ev.Registrant
	subject = "Registration confirmed"
	body = fmt.Sprintf("Hi %s,\n\n%s %s is registered for event %s.\nPayment reference: %s\n",
		r.Guardian.Name, r.Player.FirstName, r.Player.LastName, ev.EventID, r.PaymentReference)
	return subject, body
}
