package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

const Schema = `
CREATE TABLE IF NOT EXISTS registration_records (
	event_id STRING PRIMARY KEY,
	max_capacity INT NOT NULL CHECK (max_capacity >= 0),
	current_registrations INT NOT NULL CHECK (current_registrations >= 0),
	registrations JSONB NOT NULL,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (current_registrations <= max_capacity)
);
CREATE TABLE IF NOT EXISTS holds (
	id STRING PRIMARY KEY,
	event_id STRING NOT NULL,
	status STRING NOT NULL CHECK (status IN ('active', 'committed', 'released')),
	reason STRING NOT NULL DEFAULT '',
	registrant_id STRING NOT NULL DEFAULT '',
	draft JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	INDEX holds_event_status (event_id, status, expires_at),
	INDEX holds_status_expiry (status, expires_at)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id STRING NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	attempts INT NOT NULL DEFAULT 0,
	dedupe_key STRING NOT NULL UNIQUE,
	INDEX outbox_status_created (status, created_at)
);
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "migrate crdb schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

// translate maps retryable transaction failures onto the domain conflict error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == SerializationFailureCode || pgErr.Code == UniqueViolationCode) {
		return errors.WithSecondaryError(errors.Wrap(domain.ErrConcurrentModification, "crdb transaction conflict"), err)
	}
	return err
}
