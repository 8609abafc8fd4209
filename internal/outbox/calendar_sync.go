package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/calendar"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// AppointmentStore is what calendar sync reads and backfills.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	SetExternalEventID(ctx context.Context, id int64, eventID string) error
}

// CalendarSync mirrors bookings to the clinic calendar.
type CalendarSync struct {
	store      AppointmentStore
	cal        calendar.Adapter
	calendarID string
	duration   time.Duration
	logger     *logging.Logger
}

func NewCalendarSync(store AppointmentStore, cal calendar.Adapter, calendarID string, duration time.Duration, logger *logging.Logger) *CalendarSync {
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendarSync{store: store, cal: cal, calendarID: calendarID, duration: duration, logger: logger}
}

func (c *CalendarSync) Name() string { return "calendar" }

func (c *CalendarSync) Handle(ctx context.Context, evt appointment.Event, p appointment.EventPayload) error {
	switch evt.Type {
	case appointment.EventCreated:
		return c.create(ctx, p.Appointment)
	case appointment.EventRescheduled, appointment.EventConfirmed:
		return c.resync(ctx, evt)
	case appointment.EventCancelled:
		return c.remove(ctx, evt.AppointmentID, p.Appointment)
	}
	return nil
}

func (c *CalendarSync) create(ctx context.Context, a appointment.Appointment) error {
	ev, err := c.cal.CreateEvent(ctx, c.calendarID, calendar.EventInput{
		Summary:     fmt.Sprintf("Cita: %s - %s", a.AppointmentType, a.PatientName),
		Description: fmt.Sprintf("Paciente: %s\nTeléfono: %s\nServicio: %s", a.PatientName, a.PhoneNumber, a.AppointmentType),
		Start:       a.AppointmentDate,
		End:         a.AppointmentDate.Add(c.duration),
		Metadata: map[string]string{
			calendar.MetaAppointmentID: strconv.FormatInt(a.ID, 10),
			calendar.MetaPhone:         a.PhoneNumber,
		},
	})
	if err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	if ev == nil || ev.ID == "" {
		return nil
	}
	if err := c.store.SetExternalEventID(ctx, a.ID, ev.ID); err != nil {
		return fmt.Errorf("backfill external event id: %w", err)
	}
	c.logger.Info("calendar event created", "appointment_id", a.ID, "external_event_id", ev.ID)
	return nil
}

// resync reads the current row since the event id may have been backfilled
// after the event was written. An active appointment without a mirror, for
// instance one re-activated after a cancel, gets a fresh calendar event.
func (c *CalendarSync) resync(ctx context.Context, evt appointment.Event) error {
	a, err := c.store.GetAppointment(ctx, evt.AppointmentID)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	if a.ExternalEventID == nil {
		if !a.Active() {
			return nil
		}
		return c.create(ctx, *a)
	}
	if evt.Type != appointment.EventRescheduled {
		return nil
	}
	start, end := a.AppointmentDate, a.AppointmentDate.Add(c.duration)
	if _, err := c.cal.UpdateEvent(ctx, c.calendarID, *a.ExternalEventID, calendar.EventPatch{Start: &start, End: &end}); err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	return nil
}

func (c *CalendarSync) remove(ctx context.Context, id int64, snapshot appointment.Appointment) error {
	eventID := snapshot.ExternalEventID
	if current, err := c.store.GetAppointment(ctx, id); err == nil {
		eventID = current.ExternalEventID
	}
	if eventID == nil {
		return nil
	}
	if _, err := c.cal.DeleteEvent(ctx, c.calendarID, *eventID); err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	if err := c.store.SetExternalEventID(ctx, id, ""); err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
		return fmt.Errorf("clear external event id: %w", err)
	}
	c.logger.Info("calendar event deleted", "appointment_id", id, "external_event_id", *eventID)
	return nil
}
