// Package outbox moves lifecycle events from the API to the broker through a
// table, so a broker outage never loses a committed registration notice.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/robertarktes/rink-registrations/internal/adapters/crdb"
	"github.com/robertarktes/rink-registrations/internal/adapters/rabbit"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

type Appender interface {
	AppendOutbox(ctx context.Context, record crdb.OutboxRecord) error
}

// Writer records lifecycle events as outbox rows.
type Writer struct {
	store Appender
}

func NewWriter(store Appender) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.store.AppendOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "hold",
		AggregateID:   ev.HoldID,
		EventType:     string(ev.Type),
		Payload:       body,
		DedupeKey:     rabbit.DedupeKey(ev),
	})
}

// LogOnly is used when neither an outbox nor a broker is configured.
type LogOnly struct {
	Logger observability.Logger
}

func (l LogOnly) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	l.Logger.WithFields(map[string]interface{}{
		"type":     ev.Type,
		"event_id": ev.EventID,
		"hold_id":  ev.HoldID,
	}).Info("lifecycle event")
	return nil
}
