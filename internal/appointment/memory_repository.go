package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Schedule Store for tests and local runs.
// It enforces the same one-active-appointment-per-timestamp rule as the
// partial unique index in Postgres.
type MemoryRepository struct {
	mu sync.Mutex

	slots        map[int64]AvailabilitySlot
	appointments map[int64]Appointment
	events       []Event

	nextSlot  int64
	nextAppt  int64
	nextEvent int64

	now func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots:        map[int64]AvailabilitySlot{},
		appointments: map[int64]Appointment{},
		now:          time.Now,
	}
}

// Events returns a copy of every recorded booking event.
func (r *MemoryRepository) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *MemoryRepository) ListSlots(_ context.Context, after time.Time) ([]AvailabilitySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AvailabilitySlot, 0, len(r.slots))
	for _, s := range r.slots {
		if s.StartTime.After(after) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) FindCoveringSlot(_ context.Context, t time.Time) (*AvailabilitySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *AvailabilitySlot
	for _, s := range r.slots {
		if !s.Covers(t) {
			continue
		}
		if best == nil || s.StartTime.Before(best.StartTime) {
			s := s
			best = &s
		}
	}
	if best == nil {
		return nil, ErrSlotNotFound
	}
	return best, nil
}

func (r *MemoryRepository) CreateSlot(_ context.Context, start, end time.Time) (*AvailabilitySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSlot++
	s := AvailabilitySlot{ID: r.nextSlot, StartTime: start, EndTime: end, CreatedAt: r.now()}
	r.slots[s.ID] = s
	return &s, nil
}

func (r *MemoryRepository) DeleteSlot(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(r.slots, id)
	return nil
}

func (r *MemoryRepository) FindActiveAt(_ context.Context, t time.Time, excludeID int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.activeAtLocked(t, excludeID); ok {
		return &a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) ActiveDatesAfter(_ context.Context, after time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []time.Time
	for _, a := range r.appointments {
		if a.Active() && a.AppointmentDate.After(after) {
			out = append(out, a.AppointmentDate)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(Appointment) bool { return true }), nil
}

func (r *MemoryRepository) ListActiveByPhone(_ context.Context, phone string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(a Appointment) bool { return a.Active() && a.PhoneNumber == phone }), nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.Status != StatusCancelled {
		if _, taken := r.activeAtLocked(in.AppointmentDate, 0); taken {
			return nil, ErrSlotTaken
		}
	}

	now := r.now()
	r.nextAppt++
	a := Appointment{
		ID:              r.nextAppt,
		PhoneNumber:     in.PhoneNumber,
		PatientName:     in.PatientName,
		AppointmentDate: in.AppointmentDate,
		AppointmentType: in.AppointmentType,
		Status:          in.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.appointments[a.ID] = a
	if err := r.recordLocked(EventCreated, a, nil); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *MemoryRepository) RescheduleAppointment(_ context.Context, id int64, phone string, newDate time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || (phone != "" && a.PhoneNumber != phone) {
		return nil, ErrAppointmentNotFound
	}
	if _, taken := r.activeAtLocked(newDate, id); taken {
		return nil, ErrSlotTaken
	}

	previous := a.AppointmentDate
	a.AppointmentDate = newDate
	a.Status = StatusConfirmed
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	if err := r.recordLocked(EventRescheduled, a, &previous); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id int64, status Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Active() && status != StatusCancelled {
		if _, taken := r.activeAtLocked(a.AppointmentDate, id); taken {
			return nil, ErrSlotTaken
		}
	}

	previous := a.Status
	a.Status = status
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	if typ, ok := statusEvent(previous, status); ok {
		if err := r.recordLocked(typ, a, nil); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) SetExternalEventID(_ context.Context, id int64, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if eventID == "" {
		a.ExternalEventID = nil
	} else {
		a.ExternalEventID = &eventID
	}
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) DueReminders(_ context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(a Appointment) bool {
		return a.Status == StatusConfirmed && !a.ReminderSent &&
			a.AppointmentDate.After(from) && !a.AppointmentDate.After(to)
	}), nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	r.appointments[id] = a
	return true, nil
}

func (r *MemoryRepository) PendingEvents(_ context.Context, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.DeliveredAt == nil {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkEventDelivered(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		if r.events[i].ID == id && r.events[i].DeliveredAt == nil {
			now := r.now()
			r.events[i].DeliveredAt = &now
		}
	}
	return nil
}

func (r *MemoryRepository) activeAtLocked(t time.Time, excludeID int64) (Appointment, bool) {
	for _, a := range r.appointments {
		if a.ID != excludeID && a.Active() && a.AppointmentDate.Equal(t) {
			return a, true
		}
	}
	return Appointment{}, false
}

func (r *MemoryRepository) sortedLocked(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDate.Equal(out[j].AppointmentDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].AppointmentDate.Before(out[j].AppointmentDate)
	})
	return out
}

func (r *MemoryRepository) recordLocked(typ EventType, a Appointment, previous *time.Time) error {
	ev, err := newEvent(typ, a, previous)
	if err != nil {
		return err
	}
	r.nextEvent++
	ev.ID = r.nextEvent
	ev.CreatedAt = r.now()
	r.events = append(r.events, ev)
	return nil
}
