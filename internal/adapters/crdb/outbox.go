package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
	OutboxFailed    = "FAILED"
)

// OutboxRecord is one lifecycle event waiting for the relay. AggregateID is
// the hold id.
type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string
	Attempts      int
	DedupeKey     string
}

// InsertOutbox adds record inside tx. A second event with the same dedupe key
// is dropped.
func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return errors.Wrapf(err, "insert outbox %s", record.DedupeKey)
}

func (r *Repository) AppendOutbox(ctx context.Context, record OutboxRecord) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return r.InsertOutbox(ctx, tx, record)
	})
}

// GetUnpublishedOutbox returns up to limit NEW rows, oldest first.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json,
		       created_at, published_at, status, attempts, dedupe_key
		FROM outbox
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, OutboxNew, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
		var rec OutboxRecord
		err := row.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload,
			&rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.Attempts, &rec.DedupeKey)
		return rec, err
	})
	return records, errors.Wrap(err, "scan outbox")
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = $2, published_at = $3 WHERE id = $1 AND status = $4`,
		id, OutboxPublished, publishedAt, OutboxNew)
	return errors.Wrapf(err, "mark outbox %s published", id)
}

// RecordAttempt counts a failed send and returns the new attempt count.
func (r *Repository) RecordAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE outbox SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id).Scan(&attempts)
	return attempts, errors.Wrapf(err, "record outbox %s attempt", id)
}

// MarkFailed parks a row the relay can never deliver.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET status = $2 WHERE id = $1 AND status = $3`,
		id, OutboxFailed, OutboxNew)
	return errors.Wrapf(err, "mark outbox %s failed", id)
}
