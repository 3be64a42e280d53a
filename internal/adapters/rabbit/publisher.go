package rabbit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

const (
	Exchange          = "rink.events"
	NotificationQueue = "rink.notifications"
)

type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	maxTries uint
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, maxTries: 3}, nil
}

// Send publishes a prepared message, retrying transient channel errors.
func (p *Publisher) Send(ctx context.Context, key string, msg amqp.Publishing) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		err := p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
		if err != nil {
			observability.RabbitPublishRetries.Inc()
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(p.maxTries))
	return err
}

// Publish sends a lifecycle event routed by its type.
func (p *Publisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Send(ctx, string(ev.Type), Message(ev, body))
}

// Message builds the AMQP envelope for an encoded lifecycle event.
func Message(ev domain.LifecycleEvent, body []byte) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    DedupeKey(ev),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	}
}

func DedupeKey(ev domain.LifecycleEvent) string {
	return string(ev.Type) + ":" + ev.HoldID
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

