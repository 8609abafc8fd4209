package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSlotNotFound        = errors.New("availability slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrSlotTaken is returned when a non-cancelled appointment already holds the timestamp.
	ErrSlotTaken = errors.New("appointment time already taken")
)

// NewAppointment is what the engine commits.
type NewAppointment struct {
	PhoneNumber     string
	PatientName     string
	AppointmentDate time.Time
	AppointmentType string
	Status          Status
}

// Repository is the Schedule Store. Every mutation of an appointment also
// records a booking event atomically with it.
type Repository interface {
	// Availability
	ListSlots(ctx context.Context, after time.Time) ([]AvailabilitySlot, error)
	FindCoveringSlot(ctx context.Context, t time.Time) (*AvailabilitySlot, error)
	CreateSlot(ctx context.Context, start, end time.Time) (*AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, id int64) error

	// Collision checks. excludeID of zero excludes nothing.
	FindActiveAt(ctx context.Context, t time.Time, excludeID int64) (*Appointment, error)
	ActiveDatesAfter(ctx context.Context, after time.Time) ([]time.Time, error)

	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListAppointments(ctx context.Context) ([]Appointment, error)
	ListActiveByPhone(ctx context.Context, phone string) ([]Appointment, error)

	// CreateAppointment returns ErrSlotTaken on a uniqueness conflict.
	CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	// RescheduleAppointment moves the appointment and confirms it. An empty
	// phone matches by id only. Returns ErrAppointmentNotFound when nothing matched.
	RescheduleAppointment(ctx context.Context, id int64, phone string, newDate time.Time) (*Appointment, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) error
	// SetExternalEventID stores the calendar mirror id; "" clears it.
	SetExternalEventID(ctx context.Context, id int64, eventID string) error

	// Reminders
	DueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error)
	// MarkReminderSent reports false when the row was already marked.
	MarkReminderSent(ctx context.Context, id int64) (bool, error)

	// Outbox
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventDelivered(ctx context.Context, id int64) error
}
