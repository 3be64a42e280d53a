package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/rink-registrations/internal/idempotency"
)

const idempotencyPrefix = "idemp:"

// Idempotency stores captured responses keyed by the client's Idempotency-Key.
type Idempotency struct {
	client redis.UniversalClient
}

func NewIdempotency(client redis.UniversalClient) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	val, err := i.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp idempotency.Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode idempotent response %s", key)
	}
	return &resp, nil
}

// Claim stores resp only if the key is absent; the first writer wins.
func (i *Idempotency) Claim(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return false, err
	}
	return i.client.SetNX(ctx, idempotencyPrefix+key, data, ttl).Result()
}

func (i *Idempotency) Set(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, idempotencyPrefix+key, data, ttl).Err()
}

func (i *Idempotency) Delete(ctx context.Context, key string) error {
	return i.client.Del(ctx, idempotencyPrefix+key).Err()
}
