package mongo

import (
	"context"
	"time"

	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID           string    `bson:"_id"`
	Action       string    `bson:"action"`
	EventID      string    `bson:"event_id"`
	HoldID       string    `bson:"hold_id"`
	Reason       string    `bson:"reason,omitempty"`
	RegistrantID string    `bson:"registrant_id,omitempty"`
	OccurredAt   time.Time `bson:"occurred_at"`
	RecordedAt   time.Time `bson:"recorded_at"`
	Data         bson.M    `bson:"data,omitempty"`
}

// Record stores one entry per (type, hold). Redelivered messages overwrite
// the same document.
func (a *AuditLogger) Record(ctx context.Context, ev domain.LifecycleEvent) error {
	entry := AuditLog{
		ID:         string(ev.Type) + ":" + ev.HoldID,
		Action:     string(ev.Type),
		EventID:    ev.EventID,
		HoldID:     ev.HoldID,
		Reason:     string(ev.Reason),
		OccurredAt: ev.OccurredAt,
		RecordedAt: a.now(),
	}
	if r := ev.Registrant; r != nil {
		entry.RegistrantID = r.ID
		entry.Data = bson.M{
			"player":            r.Player.FirstName + " " + r.Player.LastName,
			"guardian":          r.Guardian.Name,
			"payment_reference": r.PaymentReference,
			"amount_paid_cents": r.AmountPaidCents,
		}
	}
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.WithError(err).WithField("hold_id", ev.HoldID).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) History(ctx context.Context, eventID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"event_id": eventID},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
