package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/phone"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
)

// BookingEngine is the part of *appointment.Service the dashboard drives.
type BookingEngine interface {
	Schedule(ctx context.Context, req appointment.ScheduleRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id int64, status appointment.Status) (*appointment.Appointment, error)
	Delete(ctx context.Context, id int64) error
	GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context) ([]appointment.Appointment, error)
	ListAllSlots(ctx context.Context) ([]appointment.AvailabilitySlot, error)
	CreateSlot(ctx context.Context, start, end time.Time) (*appointment.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, id int64) error
}

var _ BookingEngine = (*appointment.Service)(nil)

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.engine.ListAllSlots(r.Context())
	if err != nil {
		h.internalError(w, "list availability", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(slots))
}

func (h *handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	loc := h.location(r.Context())
	start, err := clinictime.ParseLocal(req.StartTime, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
		return
	}
	end, err := clinictime.ParseLocal(req.EndTime, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
		return
	}

	slot, err := h.engine.CreateSlot(r.Context(), start, end)
	if err != nil {
		h.bookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (h *handlers) deleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteSlot(r.Context(), id); err != nil {
		h.bookingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.engine.ListAppointments(r.Context())
	if err != nil {
		h.internalError(w, "list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(appts))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.GetAppointment(r.Context(), id)
	if err != nil {
		h.bookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// createAppointment books through the engine, so dashboard bookings get the
// same open, collision and calendar checks as the assistant's.
func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	date, err := clinictime.ParseLocal(req.AppointmentDate, h.location(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_date", err.Error())
		return
	}

	appt, err := h.engine.Schedule(r.Context(), appointment.ScheduleRequest{
		PhoneNumber:     phone.Canonical(req.PhoneNumber),
		PatientName:     req.PatientName,
		AppointmentType: req.AppointmentType,
		Date:            date,
		Status:          req.Status,
	})
	if err != nil {
		h.bookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var (
		appt *appointment.Appointment
		err  error
	)
	switch {
	case req.Status != "":
		appt, err = h.engine.UpdateStatus(r.Context(), id, req.Status)
	case strings.TrimSpace(req.AppointmentDate) != "":
		date, perr := clinictime.ParseLocal(req.AppointmentDate, h.location(r.Context()))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_date", perr.Error())
			return
		}
		appt, err = h.engine.Reschedule(r.Context(), appointment.RescheduleRequest{ID: id, NewDate: date})
	default:
		writeError(w, http.StatusBadRequest, "empty_update", "status or appointment_date is required")
		return
	}
	if err != nil {
		h.bookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		h.bookingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) bookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotNotOpen):
		writeError(w, http.StatusConflict, "slot_not_open", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrExternalBusy):
		writeError(w, http.StatusConflict, "calendar_busy", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		h.internalError(w, "booking operation", err)
	}
}

func (h *handlers) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("dashboard request failed", "operation", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
}

// location is the clinic zone used to read naive dashboard timestamps.
func (h *handlers) location(ctx context.Context) *time.Location {
	settings, err := h.store.Settings(ctx)
	if err != nil {
		return clinictime.Location("", h.defaultTimezone)
	}
	return settings.Location(h.defaultTimezone)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
