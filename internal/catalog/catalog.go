// Package catalog reads the events people register for. The calendar is the
// source of truth; everything here is read-only from the reservation core's
// point of view.
package catalog

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/cache"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

type Source interface {
	Get(ctx context.Context, eventID string) (domain.Event, error)
	ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error)
}

// Cached fronts a Source with TTL caches for single events and listings.
// A zero ttl disables caching and every call reaches the source.
type Cached struct {
	src    Source
	events *cache.Cache[string, domain.Event]
	lists  *cache.Cache[int64, []domain.Event]
}

func NewCached(src Source, ttl time.Duration, clk clock.Clock) *Cached {
	c := &Cached{src: src}
	if ttl > 0 {
		c.events = cache.New[string, domain.Event](ttl, 1024, clk)
		c.lists = cache.New[int64, []domain.Event](ttl, 64, clk)
	}
	return c
}

func (c *Cached) Get(ctx context.Context, eventID string) (domain.Event, error) {
	if c.events != nil {
		if ev, ok := c.events.Get(eventID); ok {
			return ev, nil
		}
	}
	ev, err := c.src.Get(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if c.events != nil {
		c.events.Set(eventID, ev)
	}
	return ev, nil
}

// ListUpcoming caches per minute of from.
func (c *Cached) ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error) {
	key := from.Truncate(time.Minute).Unix()
	if c.lists != nil {
		if evs, ok := c.lists.Get(key); ok {
			return slices.Clone(evs), nil
		}
	}
	evs, err := c.src.ListUpcoming(ctx, from)
	if err != nil {
		return nil, err
	}
	if c.lists != nil {
		c.lists.Set(key, slices.Clone(evs))
		for _, ev := range evs {
			c.events.Set(ev.ID, ev)
		}
	}
	return evs, nil
}

// Invalidate drops a cached event, e.g. after its capacity was patched.
func (c *Cached) Invalidate(eventID string) {
	if c.events != nil {
		c.events.Delete(eventID)
	}
}

// Static is an in-memory Source.
type Static struct {
	mu     sync.RWMutex
	events map[string]domain.Event
}

func NewStatic(events ...domain.Event) *Static {
	s := &Static{events: make(map[string]domain.Event)}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return s
}

func (s *Static) Put(ev domain.Event) {
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
}

func (s *Static) Get(ctx context.Context, eventID string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, errors.Wrapf(domain.ErrNotFound, "event %s", eventID)
	}
	return ev, nil
}

func (s *Static) ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, ev := range s.events {
		if !ev.StartsAt.Before(from) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
