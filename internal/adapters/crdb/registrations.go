package crdb

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

// RegistrationStore keeps one row per event. The version column is the
// conditional-write token.
type RegistrationStore struct {
	repo *Repository
}

func (r *Repository) Registrations() *RegistrationStore {
	return &RegistrationStore{repo: r}
}

const registrationColumns = `event_id, max_capacity, current_registrations, registrations, version, created_at, updated_at`

func scanRecord(row pgx.Row) (domain.VersionedRecord, error) {
	var (
		rec     domain.RegistrationRecord
		regs    []byte
		version int64
	)
	if err := row.Scan(&rec.EventID, &rec.MaxCapacity, &rec.CurrentRegistrations, &regs, &version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.VersionedRecord{}, err
	}
	if err := json.Unmarshal(regs, &rec.Registrations); err != nil {
		return domain.VersionedRecord{}, errors.Wrapf(domain.ErrCorruptRecord, "event %s registrations: %v", rec.EventID, err)
	}
	if rec.Registrations == nil {
		rec.Registrations = []domain.Registrant{}
	}
	return domain.VersionedRecord{Record: rec, Version: strconv.FormatInt(version, 10)}, nil
}

func (s *RegistrationStore) Load(ctx context.Context, eventID string) (domain.VersionedRecord, error) {
	v, err := scanRecord(s.repo.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registration_records WHERE event_id = $1
	`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VersionedRecord{}, errors.Wrapf(domain.ErrNotFound, "registration record %s", eventID)
	}
	return v, err
}

func (s *RegistrationStore) Insert(ctx context.Context, rec domain.RegistrationRecord) (string, error) {
	regs, err := json.Marshal(rec.Registrations)
	if err != nil {
		return "", err
	}
	tag, err := s.repo.pool.Exec(ctx, `
		INSERT INTO registration_records (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, rec.MaxCapacity, rec.CurrentRegistrations, regs, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return "", translate(err)
	}
	if tag.RowsAffected() == 0 {
		return "", errors.Wrapf(domain.ErrConcurrentModification, "registration record %s exists", rec.EventID)
	}
	return "1", nil
}

func (s *RegistrationStore) Replace(ctx context.Context, rec domain.RegistrationRecord, version string) (string, error) {
	expected, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return "", errors.Wrapf(domain.ErrInvalidInput, "version %q", version)
	}
	regs, err := json.Marshal(rec.Registrations)
	if err != nil {
		return "", err
	}
	var next int64
	err = s.repo.pool.QueryRow(ctx, `
		UPDATE registration_records
		SET max_capacity = $2, current_registrations = $3, registrations = $4, updated_at = $5, version = version + 1
		WHERE event_id = $1 AND version = $6
		RETURNING version
	`, rec.EventID, rec.MaxCapacity, rec.CurrentRegistrations, regs, rec.UpdatedAt, expected).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.Wrapf(domain.ErrConcurrentModification, "registration record %s: version %s is stale", rec.EventID, version)
	}
	if err != nil {
		return "", translate(err)
	}
	return strconv.FormatInt(next, 10), nil
}

func (s *RegistrationStore) List(ctx context.Context) ([]domain.RegistrationRecord, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT `+registrationColumns+`
		FROM registration_records ORDER BY event_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RegistrationRecord
	for rows.Next() {
		v, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v.Record)
	}
	return out, rows.Err()
}

func (s *RegistrationStore) Delete(ctx context.Context, eventID string) error {
	tag, err := s.repo.pool.Exec(ctx, `DELETE FROM registration_records WHERE event_id = $1`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "registration record %s", eventID)
	}
	return nil
}
