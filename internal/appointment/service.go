package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-assistant/internal/calendar"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var (
	ErrSlotNotOpen     = errors.New("no availability covers that time")
	ErrExternalBusy    = errors.New("time conflicts with the clinic calendar")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
	ErrInvalidRequest  = errors.New("invalid booking request")
)

// Options wires the engine's collaborators. Every field is optional.
type Options struct {
	Locker     redisclient.Locker
	Calendar   calendar.Adapter
	CalendarID string
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	// Duration is the implicit appointment length used for calendar windows.
	Duration  time.Duration
	SlotLimit int
	// OnCommit runs after every committed change; the api server uses it to
	// nudge the outbox dispatcher.
	OnCommit func()
}

// Service is the Booking Transaction Engine. Each handler runs the advisory
// checks (open, collision, external busy) under a per-timestamp lock and then
// commits a single row; the store's uniqueness rule closes any remaining race.
type Service struct {
	repo       Repository
	locker     redisclient.Locker
	cal        calendar.Adapter
	calendarID string
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	duration   time.Duration
	slotLimit  int
	onCommit   func()
}

func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:       repo,
		locker:     opts.Locker,
		cal:        opts.Calendar,
		calendarID: opts.CalendarID,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		duration:   opts.Duration,
		slotLimit:  opts.SlotLimit,
		onCommit:   opts.OnCommit,
	}
	if s.cal == nil {
		s.cal = calendar.Disabled{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.duration <= 0 {
		s.duration = 30 * time.Minute
	}
	if s.slotLimit <= 0 {
		s.slotLimit = 30
	}
	return s
}

// Duration is the implicit appointment length.
func (s *Service) Duration() time.Duration { return s.duration }

type ScheduleRequest struct {
	PhoneNumber     string
	PatientName     string
	AppointmentType string
	Date            time.Time
	// Status defaults to pending.
	Status Status
}

type RescheduleRequest struct {
	ID          int64
	PhoneNumber string
	NewDate     time.Time
}

// AvailableSlots lists future openings whose start is not held by an active
// appointment, minus anything the external calendar reports busy.
func (s *Service) AvailableSlots(ctx context.Context) ([]AvailabilitySlot, error) {
	now := s.now()

	slots, err := s.repo.ListSlots(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	booked, err := s.repo.ActiveDatesAfter(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list booked dates: %w", err)
	}

	taken := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		taken[t.Unix()] = struct{}{}
	}

	candidates := make([]AvailabilitySlot, 0, len(slots))
	for _, slot := range slots {
		key := slot.StartTime.Unix()
		if _, ok := taken[key]; ok {
			continue
		}
		// overlapping slots sharing a start are one opening
		taken[key] = struct{}{}
		candidates = append(candidates, slot)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	busy := s.busyWindows(ctx, candidates[0].StartTime, candidates[len(candidates)-1].StartTime.Add(s.duration))

	out := make([]AvailabilitySlot, 0, min(len(candidates), s.slotLimit))
	for _, slot := range candidates {
		if overlapsAny(busy, slot.StartTime, slot.StartTime.Add(s.duration)) {
			continue
		}
		out = append(out, slot)
		if len(out) == s.slotLimit {
			break
		}
	}
	return out, nil
}

// Schedule books a new appointment at req.Date.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*Appointment, error) {
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.AppointmentType = strings.TrimSpace(req.AppointmentType)
	switch {
	case req.PhoneNumber == "":
		return nil, fmt.Errorf("%w: phone number is required", ErrInvalidRequest)
	case req.PatientName == "":
		return nil, fmt.Errorf("%w: patient name is required", ErrInvalidRequest)
	case req.AppointmentType == "":
		return nil, fmt.Errorf("%w: appointment type is required", ErrInvalidRequest)
	case req.Date.IsZero():
		return nil, fmt.Errorf("%w: appointment date is required", ErrInvalidRequest)
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if !req.Status.Valid() || req.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: cannot book with status %q", ErrInvalidRequest, req.Status)
	}
	date := req.Date.Truncate(time.Minute)

	var created *Appointment
	err := s.withSlotLock(ctx, date, func(ctx context.Context) error {
		if err := s.validate(ctx, date, 0); err != nil {
			return err
		}
		appt, err := s.repo.CreateAppointment(ctx, NewAppointment{
			PhoneNumber:     req.PhoneNumber,
			PatientName:     req.PatientName,
			AppointmentDate: date,
			AppointmentType: req.AppointmentType,
			Status:          req.Status,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		s.observe("schedule", req.PhoneNumber, date, err)
		return nil, err
	}

	s.observe("schedule", req.PhoneNumber, date, nil)
	s.logger.Info("appointment scheduled", "appointment_id", created.ID, "phone", created.PhoneNumber, "date", date)
	s.committed()
	return created, nil
}

// Reschedule moves an appointment and confirms it. The update is scoped to
// the caller's phone first and falls back to an id-only match.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*Appointment, error) {
	if req.ID <= 0 {
		return nil, fmt.Errorf("%w: appointment id is required", ErrInvalidRequest)
	}
	if req.NewDate.IsZero() {
		return nil, fmt.Errorf("%w: new date is required", ErrInvalidRequest)
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	date := req.NewDate.Truncate(time.Minute)

	var updated *Appointment
	err := s.withSlotLock(ctx, date, func(ctx context.Context) error {
		if err := s.validate(ctx, date, req.ID); err != nil {
			return err
		}
		appt, err := s.repo.RescheduleAppointment(ctx, req.ID, phone, date)
		if errors.Is(err, ErrAppointmentNotFound) && phone != "" {
			s.logger.Warn("reschedule matched no appointment for caller, retrying by id", "appointment_id", req.ID, "phone", phone)
			appt, err = s.repo.RescheduleAppointment(ctx, req.ID, "", date)
		}
		if err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		s.observe("reschedule", phone, date, err)
		return nil, err
	}

	s.observe("reschedule", phone, date, nil)
	s.logger.Info("appointment rescheduled", "appointment_id", updated.ID, "phone", updated.PhoneNumber, "date", date)
	s.committed()
	return updated, nil
}

// MyAppointments lists the caller's non-cancelled appointments.
func (s *Service) MyAppointments(ctx context.Context, phone string) ([]Appointment, error) {
	appts, err := s.repo.ListActiveByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// UpdateStatus applies a dashboard status change. Re-activating a cancelled
// appointment is subject to the same uniqueness rule as booking.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	appt, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment status updated", "appointment_id", id, "status", status)
	s.committed()
	return appt, nil
}

func (s *Service) Cancel(ctx context.Context, id int64) (*Appointment, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// Delete hard-deletes an appointment (dashboard only) and best-effort removes
// its calendar mirror.
func (s *Service) Delete(ctx context.Context, id int64) error {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	if appt.ExternalEventID != nil && s.calendarID != "" {
		if _, err := s.cal.DeleteEvent(ctx, s.calendarID, *appt.ExternalEventID); err != nil {
			s.logger.Error("calendar delete after hard delete failed", "error", err, "appointment_id", id)
		}
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListAppointments(ctx)
}

// ListAllSlots returns every declared slot, past ones included.
func (s *Service) ListAllSlots(ctx context.Context) ([]AvailabilitySlot, error) {
	return s.repo.ListSlots(ctx, time.Time{})
}

func (s *Service) CreateSlot(ctx context.Context, start, end time.Time) (*AvailabilitySlot, error) {
	start, end = start.Truncate(time.Minute), end.Truncate(time.Minute)
	if start.IsZero() || !end.After(start) {
		return nil, fmt.Errorf("%w: slot end must be after start", ErrInvalidRequest)
	}
	return s.repo.CreateSlot(ctx, start, end)
}

func (s *Service) DeleteSlot(ctx context.Context, id int64) error {
	return s.repo.DeleteSlot(ctx, id)
}

// validate runs the advisory checks in order: open, collision, external busy.
func (s *Service) validate(ctx context.Context, date time.Time, excludeID int64) error {
	if !date.After(s.now()) {
		return ErrSlotNotOpen
	}

	if _, err := s.repo.FindCoveringSlot(ctx, date); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotOpen
		}
		return fmt.Errorf("check availability: %w", err)
	}

	existing, err := s.repo.FindActiveAt(ctx, date, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check collision: %w", err)
	}
	if existing != nil {
		return ErrSlotTaken
	}

	if s.calendarID == "" {
		return nil
	}
	busy, err := s.cal.IsBusy(ctx, s.calendarID, date, date.Add(s.duration))
	if err != nil {
		s.logger.Warn("calendar busy check failed, treating as free", "error", err, "date", date)
		return nil
	}
	if busy {
		return ErrExternalBusy
	}
	return nil
}

func (s *Service) withSlotLock(ctx context.Context, date time.Time, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithLock(ctx, redisclient.SlotKey(date), func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	case err != nil && !ran:
		// lock backend unavailable; the unique index still guards the commit
		s.logger.Warn("slot lock unavailable, booking without it", "error", err, "date", date)
		return fn(ctx)
	}
	return err
}

func (s *Service) busyWindows(ctx context.Context, from, to time.Time) []calendar.Window {
	if s.calendarID == "" {
		return nil
	}
	windows, err := s.cal.BusyPeriods(ctx, s.calendarID, from, to)
	if err != nil {
		s.logger.Warn("calendar busy lookup failed, listing local availability only", "error", err)
		return nil
	}
	return windows
}

func (s *Service) observe(op, phone string, date time.Time, err error) {
	outcome := Outcome(err)
	s.metrics.ObserveBooking(op, outcome)
	switch outcome {
	case "committed":
	case "error":
		s.logger.Error("booking failed", "operation", op, "error", err, "phone", phone, "date", date)
	default:
		s.logger.Info("booking rejected", "operation", op, "reason", outcome, "phone", phone, "date", date)
	}
}

func (s *Service) committed() {
	if s.onCommit != nil {
		s.onCommit()
	}
}

// Outcome names a booking result for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrSlotNotOpen):
		return "not_open"
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrSlotBeingBooked):
		return "taken"
	case errors.Is(err, ErrExternalBusy):
		return "external_busy"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	}
	return "error"
}

func overlapsAny(windows []calendar.Window, start, end time.Time) bool {
	for _, w := range windows {
		if w.Overlaps(start, end) {
			return true
		}
	}
	return false
}
