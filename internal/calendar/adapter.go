// Package calendar is the boundary to the human-facing clinic calendar. The
// local schedule stays authoritative; this calendar is a secondary source of
// busy/free truth and a mirror of committed bookings.
package calendar

import (
	"context"
	"time"
)

// Metadata keys stashed on mirrored events for cross-referencing.
const (
	MetaAppointmentID = "appointment_id"
	MetaPhone         = "phone_number"
)

type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Metadata    map[string]string
}

type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Metadata    map[string]string
}

// EventPatch carries only the fields being changed.
type EventPatch struct {
	Summary *string
	Start   *time.Time
	End     *time.Time
}

type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether w intersects [start, end).
func (w Window) Overlaps(start, end time.Time) bool {
	return w.Start.Before(end) && start.Before(w.End)
}

// Adapter is implemented by Google and Disabled. Every method on an
// unconfigured adapter returns an empty or negative result instead of an error.
type Adapter interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, in EventInput) (*Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, patch EventPatch) (*Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) (bool, error)
	IsBusy(ctx context.Context, calendarID string, start, end time.Time) (bool, error)
	BusyPeriods(ctx context.Context, calendarID string, from, to time.Time) ([]Window, error)
}

// Disabled stands in when no calendar credentials are configured.
type Disabled struct{}

var _ Adapter = Disabled{}

func (Disabled) ListEvents(context.Context, string, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}

func (Disabled) CreateEvent(context.Context, string, EventInput) (*Event, error) {
	return nil, nil
}

func (Disabled) UpdateEvent(context.Context, string, string, EventPatch) (*Event, error) {
	return nil, nil
}

func (Disabled) DeleteEvent(context.Context, string, string) (bool, error) {
	return false, nil
}

func (Disabled) IsBusy(context.Context, string, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (Disabled) BusyPeriods(context.Context, string, time.Time, time.Time) ([]Window, error) {
	return nil, nil
}
