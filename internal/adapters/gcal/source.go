// Package gcal reads camps and lessons from a Google Calendar. Registration
// metadata lives in each event's private extended properties.
package gcal

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	propPrice       = "price"
	propEventType   = "eventType"
	propMaxCapacity = "maxCapacity"
)

type Source struct {
	svc        *calendar.Service
	calendarID string
}

// NewSource accepts credentials as a service account JSON document or a path
// to one. Empty credentials fall back to application default credentials.
func NewSource(ctx context.Context, calendarID, credentials string) (*Source, error) {
	var opts []option.ClientOption
	switch {
	case strings.HasPrefix(strings.TrimSpace(credentials), "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	case credentials != "":
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "calendar service")
	}
	return &Source{svc: svc, calendarID: calendarID}, nil
}

func (s *Source) Get(ctx context.Context, eventID string) (domain.Event, error) {
	ev, err := s.svc.Events.Get(s.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, translate(err, eventID)
	}
	return toEvent(ev)
}

// ListUpcoming returns registrable events starting at or after from. Calendar
// entries without registration metadata are skipped.
func (s *Source) ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error) {
	var out []domain.Event
	err := s.svc.Events.List(s.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				ev, err := toEvent(item)
				if err != nil {
					continue
				}
				out = append(out, ev)
			}
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "list calendar events")
	}
	return out, nil
}

// PatchCapacity rewrites the maxCapacity property, leaving other metadata alone.
func (s *Source) PatchCapacity(ctx context.Context, eventID string, maxCapacity int) (domain.Event, error) {
	if maxCapacity < 0 {
		return domain.Event{}, errors.Wrapf(domain.ErrInvalidCapacity, "max capacity %d", maxCapacity)
	}
	patch := &calendar.Event{
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{propMaxCapacity: strconv.Itoa(maxCapacity)},
		},
	}
	ev, err := s.svc.Events.Patch(s.calendarID, eventID, patch).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, translate(err, eventID)
	}
	return toEvent(ev)
}

func translate(err error, eventID string) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone) {
		return errors.Wrapf(domain.ErrNotFound, "calendar event %s", eventID)
	}
	return errors.Wrapf(err, "calendar event %s", eventID)
}

func toEvent(ev *calendar.Event) (domain.Event, error) {
	if ev == nil || ev.Status == "cancelled" {
		return domain.Event{}, errors.Wrap(domain.ErrNotFound, "calendar event cancelled")
	}
	var props map[string]string
	if ev.ExtendedProperties != nil {
		props = ev.ExtendedProperties.Private
	}

	out := domain.Event{ID: ev.Id, Name: ev.Summary}

	starts, err := startTime(ev.Start)
	if err != nil {
		return domain.Event{}, errors.Wrapf(domain.ErrCorruptRecord, "event %s start: %v", ev.Id, err)
	}
	out.StartsAt = starts

	switch t := domain.EventType(strings.ToLower(props[propEventType])); t {
	case domain.EventTypeCamp, domain.EventTypeLesson:
		out.Type = t
	default:
		return domain.Event{}, errors.Wrapf(domain.ErrCorruptRecord, "event %s has event type %q", ev.Id, props[propEventType])
	}

	capacity, err := strconv.Atoi(props[propMaxCapacity])
	if err != nil || capacity < 0 {
		return domain.Event{}, errors.Wrapf(domain.ErrCorruptRecord, "event %s has max capacity %q", ev.Id, props[propMaxCapacity])
	}
	out.MaxCapacity = capacity

	if raw := props[propPrice]; raw != "" {
		price, err := strconv.ParseFloat(strings.TrimPrefix(raw, "$"), 64)
		if err != nil || price < 0 {
			return domain.Event{}, errors.Wrapf(domain.ErrCorruptRecord, "event %s has price %q", ev.Id, raw)
		}
		out.PriceCents = int64(math.Round(price * 100))
	}
	return out, nil
}

func startTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing start")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	return time.Parse("2006-01-02", dt.Date)
}
