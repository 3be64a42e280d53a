package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

const (
	holdKeyPrefix   = "hold:"
	activeKeyPrefix = "holds:active:"
	eventsKey       = "holds:events"
)

// createHold counts unexpired members of the event's active set and adds the
// new hold only while that count is below the limit.
//
// KEYS: active zset, hold key, events set
// ARGV: now ms, limit, expires ms, hold id, hold json, retention seconds, event id
var createHold = redis.NewScript(`
local active = redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[1], '+inf')
if active >= tonumber(ARGV[2]) then
	return -1
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return -2
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('SET', KEYS[2], ARGV[5], 'EX', ARGV[6])
redis.call('SADD', KEYS[3], ARGV[7])
return active + 1
`)

// HoldStore keeps each hold as JSON plus a per-event sorted set of active
// hold IDs scored by expiry, so counting live holds is one ZCOUNT.
type HoldStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewHoldStore keeps hold documents for retention past their expiry so late
// payment notifications can still find them.
func NewHoldStore(client redis.UniversalClient, retention time.Duration) *HoldStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &HoldStore{client: client, retention: retention}
}

func holdKey(id string) string        { return holdKeyPrefix + id }
func activeKey(eventID string) string { return activeKeyPrefix + eventID }

func (s *HoldStore) Create(ctx context.Context, hold domain.ReservationHold, limit int, now time.Time) error {
	data, err := json.Marshal(hold)
	if err != nil {
		return err
	}
	ttl := hold.ExpiresAt.Sub(now) + s.retention
	res, err := createHold.Run(ctx, s.client,
		[]string{activeKey(hold.EventID), holdKey(hold.HoldID), eventsKey},
		now.UnixMilli(), limit, hold.ExpiresAt.UnixMilli(), hold.HoldID, data, int64(ttl.Seconds()), hold.EventID,
	).Int64()
	if err != nil {
		return errors.Wrap(err, "create hold")
	}
	switch res {
	case -1:
		return errors.Wrapf(domain.ErrCapacityExceeded, "event %s: limit %d reached", hold.EventID, limit)
	case -2:
		return errors.Wrapf(domain.ErrConcurrentModification, "hold %s exists", hold.HoldID)
	}
	return nil
}

func (s *HoldStore) Get(ctx context.Context, holdID string) (domain.ReservationHold, error) {
	raw, err := s.client.Get(ctx, holdKey(holdID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ReservationHold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	if err != nil {
		return domain.ReservationHold{}, err
	}
	var h domain.ReservationHold
	if err := json.Unmarshal(raw, &h); err != nil {
		return domain.ReservationHold{}, errors.Wrapf(err, "decode hold %s", holdID)
	}
	return h, nil
}

func (s *HoldStore) Transition(ctx context.Context, holdID string, to domain.HoldStatus, reason domain.ReleaseReason, registrantID string, now time.Time) (domain.ReservationHold, error) {
	key := holdKey(holdID)
	var out domain.ReservationHold
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
		}
		if err != nil {
			return err
		}
		var h domain.ReservationHold
		if err := json.Unmarshal(raw, &h); err != nil {
			return errors.Wrapf(err, "decode hold %s", holdID)
		}
		if h.Terminal() {
			out = h
			return errors.Wrapf(domain.ErrHoldTerminal, "hold %s is %s", holdID, h.Status)
		}

		h.Status = to
		h.Reason = reason
		h.RegistrantID = registrantID
		data, err := json.Marshal(h)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			pipe.ZRem(ctx, activeKey(h.EventID), holdID)
			return nil
		})
		if err != nil {
			return err
		}
		out = h
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ReservationHold{}, errors.Wrapf(domain.ErrConcurrentModification, "hold %s changed during transition", holdID)
	}
	return out, err
}

func (s *HoldStore) CountActive(ctx context.Context, eventID string, now time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, activeKey(eventID), "("+formatMillis(now), "+inf").Result()
	return int(n), err
}

// ExpireDue releases every active hold whose score is at or before now.
// Holds already transitioned by a concurrent caller are skipped.
func (s *HoldStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.ReservationHold, error) {
	events, err := s.client.SMembers(ctx, eventsKey).Result()
	if err != nil {
		return nil, err
	}
	var released []domain.ReservationHold
	for _, eventID := range events {
		ids, err := s.client.ZRangeByScore(ctx, activeKey(eventID), &redis.ZRangeBy{
			Min: "-inf",
			Max: formatMillis(now),
		}).Result()
		if err != nil {
			return released, err
		}
		for _, id := range ids {
			h, err := s.Transition(ctx, id, domain.HoldReleased, domain.ReasonExpired, "", now)
			switch {
			case err == nil:
				released = append(released, h)
			case errors.Is(err, domain.ErrHoldTerminal), errors.Is(err, domain.ErrHoldNotFound):
				s.client.ZRem(ctx, activeKey(eventID), id)
			case errors.Is(err, domain.ErrConcurrentModification):
				// retried on the next sweep
			default:
				return released, err
			}
		}
	}
	return released, nil
}

func formatMillis(t time.Time) string {
	return formatInt(t.UnixMilli())
}
