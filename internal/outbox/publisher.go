package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/rink-registrations/internal/adapters/crdb"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	RecordAttempt(ctx context.Context, id uuid.UUID) (int, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

type Sender interface {
	Send(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo     Source
	sender   Sender
	clock    clock.Clock
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(repo Source, sender Sender, clk clock.Clock, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{repo: repo, sender: sender, clock: clk, logger: logger, interval: interval, batch: batch}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox relay failed")
			}
		}
	}
}

// RunOnce relays one batch in creation order and stops at the first send
// failure so later rows never overtake an earlier one. Rows whose payload is
// not JSON are parked as failed and skipped.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.clock.Now().Sub(records[0].CreatedAt).Seconds())

	sent := 0
	for _, rec := range records {
		log := p.logger.WithFields(map[string]interface{}{"outbox_id": rec.ID.String(), "event_type": rec.EventType})
		if !json.Valid(rec.Payload) {
			if err := p.repo.MarkFailed(ctx, rec.ID); err != nil {
				return sent, err
			}
			log.Error("parked outbox row with undecodable payload")
			continue
		}
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         rec.EventType,
			Timestamp:    rec.CreatedAt,
			Body:         rec.Payload,
		}
		if err := p.sender.Send(ctx, rec.EventType, msg); err != nil {
			attempts, aerr := p.repo.RecordAttempt(ctx, rec.ID)
			if aerr != nil {
				log.WithError(aerr).Warn("record outbox attempt")
			}
			log.WithField("attempts", attempts).WithError(err).Warn("outbox send failed")
			return sent, err
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, p.clock.Now()); err != nil {
			log.WithError(err).Warn("published but not marked; will be resent")
			return sent, err
		}
		sent++
	}
	return sent, nil
}
