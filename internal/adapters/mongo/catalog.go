package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository is a Mongo copy of the calendar, filled by sync-events.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

func (c *CatalogRepository) Get(ctx context.Context, eventID string) (domain.Event, error) {
	var ev domain.Event
	err := c.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Event{}, errors.Wrapf(domain.ErrNotFound, "event %s", eventID)
	}
	if err != nil {
		c.logger.WithError(err).WithField("event_id", eventID).Error("failed to get event")
		return domain.Event{}, err
	}
	return ev, nil
}

func (c *CatalogRepository) ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error) {
	cur, err := c.coll.Find(ctx,
		bson.M{"starts_at": bson.M{"$gte": from}},
		options.Find().SetSort(bson.D{{Key: "starts_at", Value: 1}}),
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to list events")
		return nil, err
	}
	var events []domain.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Upsert replaces each event by ID and returns how many documents changed.
func (c *CatalogRepository) Upsert(ctx context.Context, events ...domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(events))
	for _, ev := range events {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": ev.ID}).
			SetReplacement(ev).
			SetUpsert(true))
	}
	res, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert events")
		return 0, err
	}
	return int(res.ModifiedCount + res.UpsertedCount), nil
}
