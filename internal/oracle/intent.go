package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-assistant/internal/clinictime"
)

const (
	ToolScheduleAppointment   = "schedule_appointment"
	ToolGetAvailableSlots     = "get_available_slots"
	ToolGetMyAppointments     = "get_my_appointments"
	ToolRescheduleAppointment = "reschedule_appointment"
)

// Intent is one of ScheduleAppointment, GetAvailableSlots, GetMyAppointments
// or RescheduleAppointment.
type Intent interface {
	Tool() string
}

type ScheduleAppointment struct {
	PatientName     string
	AppointmentDate time.Time
	AppointmentType string
}

type GetAvailableSlots struct{}

type GetMyAppointments struct{}

type RescheduleAppointment struct {
	AppointmentID int64
	NewDate       time.Time
}

func (ScheduleAppointment) Tool() string   { return ToolScheduleAppointment }
func (GetAvailableSlots) Tool() string     { return ToolGetAvailableSlots }
func (GetMyAppointments) Tool() string     { return ToolGetMyAppointments }
func (RescheduleAppointment) Tool() string { return ToolRescheduleAppointment }

// ToolCallError reports an unknown tool or a missing/invalid argument.
type ToolCallError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ToolCallError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("oracle: tool %q: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("oracle: tool %q: field %q: %s", e.Tool, e.Field, e.Reason)
}

// ParseToolCall validates a raw call into a typed Intent. Dates are read as
// clinic wall-clock in loc.
func ParseToolCall(call ToolCall, loc *time.Location) (Intent, error) {
	switch call.Name {
	case ToolGetAvailableSlots:
		return GetAvailableSlots{}, nil
	case ToolGetMyAppointments:
		return GetMyAppointments{}, nil
	case ToolScheduleAppointment:
		name, err := requiredString(call, "patient_name")
		if err != nil {
			return nil, err
		}
		kind, err := requiredString(call, "appointment_type")
		if err != nil {
			return nil, err
		}
		date, err := requiredDate(call, "appointment_date", loc)
		if err != nil {
			return nil, err
		}
		return ScheduleAppointment{PatientName: name, AppointmentDate: date, AppointmentType: kind}, nil
	case ToolRescheduleAppointment:
		id, err := requiredID(call, "appointment_id")
		if err != nil {
			return nil, err
		}
		date, err := requiredDate(call, "new_date", loc)
		if err != nil {
			return nil, err
		}
		return RescheduleAppointment{AppointmentID: id, NewDate: date}, nil
	}
	return nil, &ToolCallError{Tool: call.Name, Reason: "unknown tool"}
}

func requiredString(call ToolCall, field string) (string, error) {
	raw, ok := call.Args[field]
	if !ok || raw == nil {
		return "", &ToolCallError{Tool: call.Name, Field: field, Reason: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ToolCallError{Tool: call.Name, Field: field, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ToolCallError{Tool: call.Name, Field: field, Reason: "empty"}
	}
	return s, nil
}

func requiredDate(call ToolCall, field string, loc *time.Location) (time.Time, error) {
	s, err := requiredString(call, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := clinictime.ParseWallClock(s, loc)
	if err != nil {
		return time.Time{}, &ToolCallError{Tool: call.Name, Field: field, Reason: err.Error()}
	}
	return t, nil
}

func requiredID(call ToolCall, field string) (int64, error) {
	raw, ok := call.Args[field]
	if !ok || raw == nil {
		return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: "missing"}
	}

	var id int64
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: "not an integer"}
		}
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: "not an integer"}
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: "not an integer"}
		}
		id = n
	default:
		return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: fmt.Sprintf("expected integer, got %T", raw)}
	}
	if id <= 0 {
		return 0, &ToolCallError{Tool: call.Name, Field: field, Reason: "must be positive"}
	}
	return id, nil
}
