package gcal

import (
	"testing"
	"time"

	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

func calendarEvent(props map[string]string) *calendar.Event {
	return &calendar.Event{
		Id:                 "abc123",
		Summary:            "Goalie Camp",
		Start:              &calendar.EventDateTime{DateTime: "2025-08-04T09:00:00-04:00"},
		ExtendedProperties: &calendar.EventExtendedProperties{Private: props},
	}
}

func TestToEvent(t *testing.T) {
	ev, err := toEvent(calendarEvent(map[string]string{
		"price":       "249.99",
		"eventType":   "Camp",
		"maxCapacity": "20",
	}))
	require.NoError(t, err)
	assert.Equal(t, "abc123", ev.ID)
	assert.Equal(t, "Goalie Camp", ev.Name)
	assert.Equal(t, domain.EventTypeCamp, ev.Type)
	assert.Equal(t, 20, ev.MaxCapacity)
	assert.Equal(t, int64(24999), ev.PriceCents)
	assert.True(t, ev.StartsAt.Equal(time.Date(2025, 8, 4, 13, 0, 0, 0, time.UTC)))
}

func TestToEventAllDay(t *testing.T) {
	raw := calendarEvent(map[string]string{"eventType": "lesson", "maxCapacity": "1"})
	raw.Start = &calendar.EventDateTime{Date: "2025-08-05"}
	ev, err := toEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeLesson, ev.Type)
	assert.Zero(t, ev.PriceCents)
}

func TestToEventRejectsMissingMetadata(t *testing.T) {
	cases := map[string]map[string]string{
		"no type":      {"maxCapacity": "5"},
		"bad capacity": {"eventType": "camp", "maxCapacity": "lots"},
		"negative":     {"eventType": "camp", "maxCapacity": "-1"},
		"bad price":    {"eventType": "camp", "maxCapacity": "5", "price": "free"},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := toEvent(calendarEvent(props))
			assert.ErrorIs(t, err, domain.ErrCorruptRecord)
		})
	}

	cancelled := calendarEvent(map[string]string{"eventType": "camp", "maxCapacity": "5"})
	cancelled.Status = "cancelled"
	_, err := toEvent(cancelled)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
