package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
	tag   string
}

// NewConsumer declares queue, binds it to the lifecycle exchange for pattern
// and limits unacked deliveries to prefetch.
func NewConsumer(conn *amqp.Connection, queue, pattern string, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, pattern, Exchange, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue, tag: queue + "-consumer"}, nil
}

// Consume delivers until ctx is cancelled, after which the channel is closed.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		c.ch.Cancel(c.tag, false)
	}()
	return deliveries, nil
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
