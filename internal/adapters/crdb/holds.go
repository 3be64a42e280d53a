package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

// HoldStore is the SQL hold ledger. Creation runs in a serializable
// transaction, so concurrent creators for the last seat surface as
// domain.ErrConcurrentModification and are retried by the ledger.
type HoldStore struct {
	repo *Repository
}

func (r *Repository) Holds() *HoldStore {
	return &HoldStore{repo: r}
}

const holdColumns = `id, event_id, status, reason, registrant_id, draft, created_at, expires_at`

func scanHold(row pgx.Row) (domain.ReservationHold, error) {
	var (
		h      domain.ReservationHold
		status string
		reason string
		draft  []byte
	)
	if err := row.Scan(&h.HoldID, &h.EventID, &status, &reason, &h.RegistrantID, &draft, &h.CreatedAt, &h.ExpiresAt); err != nil {
		return domain.ReservationHold{}, err
	}
	h.Status = domain.HoldStatus(status)
	h.Reason = domain.ReleaseReason(reason)
	if len(draft) > 0 {
		var reg domain.Registrant
		if err := json.Unmarshal(draft, &reg); err != nil {
			return domain.ReservationHold{}, errors.Wrapf(err, "hold %s draft", h.HoldID)
		}
		h.Draft = &reg
	}
	return h, nil
}

func (s *HoldStore) Create(ctx context.Context, hold domain.ReservationHold, limit int, now time.Time) error {
	var draft []byte
	if hold.Draft != nil {
		var err error
		if draft, err = json.Marshal(hold.Draft); err != nil {
			return err
		}
	}
	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE holds SET status = 'released', reason = 'expired', updated_at = $2
			WHERE event_id = $1 AND status = 'active' AND expires_at <= $2
		`, hold.EventID, now); err != nil {
			return err
		}

		var active int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM holds WHERE event_id = $1 AND status = 'active'
		`, hold.EventID).Scan(&active); err != nil {
			return err
		}
		if active >= limit {
			return errors.Wrapf(domain.ErrCapacityExceeded, "event %s: %d active holds, limit %d", hold.EventID, active, limit)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO holds (`+holdColumns+`, updated_at)
			VALUES ($1, $2, $3, '', '', $4, $5, $6, $5)
		`, hold.HoldID, hold.EventID, string(hold.Status), draft, hold.CreatedAt, hold.ExpiresAt)
		return err
	})
}

func (s *HoldStore) Get(ctx context.Context, holdID string) (domain.ReservationHold, error) {
	h, err := scanHold(s.repo.pool.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, holdID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReservationHold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	return h, err
}

func (s *HoldStore) Transition(ctx context.Context, holdID string, to domain.HoldStatus, reason domain.ReleaseReason, registrantID string, now time.Time) (domain.ReservationHold, error) {
	h, err := scanHold(s.repo.pool.QueryRow(ctx, `
		UPDATE holds SET status = $2, reason = $3, registrant_id = $4, updated_at = $5
		WHERE id = $1 AND status = 'active'
		RETURNING `+holdColumns,
		holdID, string(to), string(reason), registrantID, now))
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ReservationHold{}, translate(err)
	}
	current, err := s.Get(ctx, holdID)
	if err != nil {
		return domain.ReservationHold{}, err
	}
	return current, errors.Wrapf(domain.ErrHoldTerminal, "hold %s is %s", holdID, current.Status)
}

func (s *HoldStore) CountActive(ctx context.Context, eventID string, now time.Time) (int, error) {
	if _, err := s.repo.pool.Exec(ctx, `
		UPDATE holds SET status = 'released', reason = 'expired', updated_at = $2
		WHERE event_id = $1 AND status = 'active' AND expires_at <= $2
	`, eventID, now); err != nil {
		return 0, translate(err)
	}
	var active int
	err := s.repo.pool.QueryRow(ctx, `
		SELECT count(*) FROM holds WHERE event_id = $1 AND status = 'active' AND expires_at > $2
	`, eventID, now).Scan(&active)
	return active, err
}

func (s *HoldStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.ReservationHold, error) {
	rows, err := s.repo.pool.Query(ctx, `
		UPDATE holds SET status = 'released', reason = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
		RETURNING `+holdColumns, now)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var holds []domain.ReservationHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
