// Package idempotency replays the first response recorded for a client-supplied key.
package idempotency

import (
	"context"
	"time"

	"github.com/robertarktes/rink-registrations/internal/cache"
	"github.com/robertarktes/rink-registrations/internal/clock"
)

// PendingTTL bounds how long a key stays claimed by a request that never finished.
const PendingTTL = time.Minute

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
	Pending     bool   `json:"pending,omitempty"`
}

// Store persists responses. Claim must be atomic: of two concurrent Claims
// for one key exactly one reports true.
type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Claim(ctx context.Context, key string, resp Response, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Begin claims the key for the caller. It returns nil when the caller owns the
// key, the recorded response when one exists, or a Pending response while
// another request holds the claim.
func (i *Idempotency) Begin(ctx context.Context, scope, key string) (*Response, error) {
	k := scope + ":" + key
	claimed, err := i.store.Claim(ctx, k, Response{Pending: true}, PendingTTL)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, nil
	}
	existing, err := i.store.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// the claim expired between the two calls
		return &Response{Pending: true}, nil
	}
	return existing, nil
}

// Complete records resp over the caller's claim.
func (i *Idempotency) Complete(ctx context.Context, scope, key string, resp Response) error {
	resp.Pending = false
	return i.store.Set(ctx, scope+":"+key, resp, i.ttl)
}

// Abandon drops the caller's claim so the client may retry with the same key.
func (i *Idempotency) Abandon(ctx context.Context, scope, key string) error {
	return i.store.Delete(ctx, scope+":"+key)
}

// MemoryStore keeps responses in process. Its ttl is fixed at construction.
type MemoryStore struct {
	items *cache.Cache[string, Response]
}

func NewMemoryStore(ttl time.Duration, clk clock.Clock) *MemoryStore {
	return &MemoryStore{items: cache.New[string, Response](ttl, 10000, clk)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Response, error) {
	resp, ok := m.items.Get(key)
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *MemoryStore) Claim(ctx context.Context, key string, resp Response, _ time.Duration) (bool, error) {
	return m.items.SetIfAbsent(key, resp), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, resp Response, _ time.Duration) error {
	m.items.Set(key, resp)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}
