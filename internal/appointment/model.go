package appointment

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// AvailabilitySlot is an open, bookable window. Slots may overlap.
type AvailabilitySlot struct {
	ID        int64     `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether t falls in [StartTime, EndTime).
func (s AvailabilitySlot) Covers(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

type Appointment struct {
	ID              int64     `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	PatientName     string    `json:"patient_name"`
	AppointmentDate time.Time `json:"appointment_date"`
	AppointmentType string    `json:"appointment_type"`
	Status          Status    `json:"status"`
	ReminderSent    bool      `json:"reminder_sent"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Active reports whether the appointment still holds its timestamp.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

type EventType string

const (
	EventCreated     EventType = "appointment.created"
	EventRescheduled EventType = "appointment.rescheduled"
	EventConfirmed   EventType = "appointment.confirmed"
	EventCancelled   EventType = "appointment.cancelled"
)

// Event is a booking_events row, written in the same transaction as the
// appointment change it describes.
type Event struct {
	ID            int64
	Type          EventType
	AppointmentID int64
	Payload       []byte
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// EventPayload is the JSON snapshot stored with each event.
type EventPayload struct {
	Appointment  Appointment `json:"appointment"`
	PreviousDate *time.Time  `json:"previous_date,omitempty"`
}

func (e Event) Decode() (EventPayload, error) {
	var p EventPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func newEvent(typ EventType, a Appointment, previous *time.Time) (Event, error) {
	data, err := json.Marshal(EventPayload{Appointment: a, PreviousDate: previous})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, AppointmentID: a.ID, Payload: data}, nil
}
