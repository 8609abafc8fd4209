package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/oracle"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Booking is the part of the booking engine the tool runner drives.
type Booking interface {
	AvailableSlots(ctx context.Context) ([]appointment.AvailabilitySlot, error)
	Schedule(ctx context.Context, req appointment.ScheduleRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	MyAppointments(ctx context.Context, phone string) ([]appointment.Appointment, error)
}

var _ Booking = (*appointment.Service)(nil)

const (
	replyStoreTrouble   = "Tuve un problema al acceder a mi agenda. ¿Podrías intentar de nuevo en un momento?"
	replyNotOpen        = "Lo siento, ese horario no está abierto en nuestra agenda. ¿Te gustaría ver otras opciones?"
	replyTaken          = "Lo siento, ese horario ya ha sido reservado por otra persona justo ahora. ¿Podemos intentar con otro?"
	replyExternalBusy   = "Lo siento, ese horario choca con otro compromiso en el calendario de la clínica. ¿Te gustaría ver otras opciones?"
	replyMissingDetails = "Para agendar necesito tu nombre, el servicio y la fecha. ¿Me los compartes?"
	replyNoAppointments = "No encontré citas próximas registradas con tu número. ¿Te gustaría agendar una nueva?"
	replyRescheduleGone = "No pude encontrar esa cita para reprogramarla. Por favor, confírmame el horario actual."
	replyRescheduleOff  = "Lo siento, ese horario no está disponible en nuestra agenda. ¿Te gustaría ver otras opciones?"
	replyRescheduleBusy = "Lo siento, ese nuevo horario ya está ocupado. ¿Te gustaría intentar con otro?"
	replyBadToolCall    = "No logré entender bien los datos de la cita. ¿Me los puedes repetir, por favor?"
)

// turnContext is what a tool needs to know about the caller and the clinic.
type turnContext struct {
	Phone    string
	Settings ClinicConfig
	Location *time.Location
}

// ToolRunner executes a typed intent against the booking engine and renders
// the patient-facing reply.
type ToolRunner struct {
	booking Booking
	logger  *logging.Logger
}

func NewToolRunner(booking Booking, logger *logging.Logger) *ToolRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return &ToolRunner{booking: booking, logger: logger}
}

func (r *ToolRunner) Run(ctx context.Context, intent oracle.Intent, tc turnContext) string {
	switch in := intent.(type) {
	case oracle.GetAvailableSlots:
		return r.availableSlots(ctx, tc)
	case oracle.ScheduleAppointment:
		return r.schedule(ctx, in, tc)
	case oracle.GetMyAppointments:
		return r.myAppointments(ctx, tc)
	case oracle.RescheduleAppointment:
		return r.reschedule(ctx, in, tc)
	}
	r.logger.Error("unhandled intent", "tool", intent.Tool(), "phone", tc.Phone)
	return replyBadToolCall
}

func (r *ToolRunner) availableSlots(ctx context.Context, tc turnContext) string {
	slots, err := r.booking.AvailableSlots(ctx)
	if err != nil {
		r.logger.Error("list available slots failed", "error", err, "phone", tc.Phone)
		return replyStoreTrouble
	}
	if len(slots) == 0 {
		return fmt.Sprintf("Por el momento no tengo horarios disponibles en el sistema. Por favor, intenta contactar directamente a %s.", clinicName(tc.Settings))
	}

	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = "- " + clinictime.FormatSlot(s.StartTime, tc.Location)
	}
	return "Estos son los horarios que tengo libres próximamente:\n" + strings.Join(lines, "\n") + "\n¿Te queda bien alguno?"
}

func (r *ToolRunner) schedule(ctx context.Context, in oracle.ScheduleAppointment, tc turnContext) string {
	appt, err := r.booking.Schedule(ctx, appointment.ScheduleRequest{
		PhoneNumber:     tc.Phone,
		PatientName:     in.PatientName,
		AppointmentType: in.AppointmentType,
		Date:            in.AppointmentDate,
	})
	switch {
	case err == nil:
		return fmt.Sprintf("¡Perfecto! He agendado tu cita de %s para el %s. ¿Te puedo ayudar en algo más?",
			appt.AppointmentType, clinictime.FormatLong(appt.AppointmentDate, tc.Location))
	case errors.Is(err, appointment.ErrSlotNotOpen):
		return replyNotOpen
	case errors.Is(err, appointment.ErrSlotTaken), errors.Is(err, appointment.ErrSlotBeingBooked):
		return replyTaken
	case errors.Is(err, appointment.ErrExternalBusy):
		return replyExternalBusy
	case errors.Is(err, appointment.ErrInvalidRequest):
		return replyMissingDetails
	}
	return replyStoreTrouble
}

func (r *ToolRunner) myAppointments(ctx context.Context, tc turnContext) string {
	appts, err := r.booking.MyAppointments(ctx, tc.Phone)
	if err != nil {
		r.logger.Error("list caller appointments failed", "error", err, "phone", tc.Phone)
		return replyStoreTrouble
	}
	if len(appts) == 0 {
		return replyNoAppointments
	}

	lines := make([]string, len(appts))
	for i, a := range appts {
		lines[i] = fmt.Sprintf("- ID %d: %s el %s", a.ID, a.AppointmentType, clinictime.FormatShort(a.AppointmentDate, tc.Location))
	}
	return "Tienes estas citas registradas:\n" + strings.Join(lines, "\n") + "\n¿Cuál de ellas te gustaría reprogramar? (Dime el ID o el servicio)"
}

func (r *ToolRunner) reschedule(ctx context.Context, in oracle.RescheduleAppointment, tc turnContext) string {
	appt, err := r.booking.Reschedule(ctx, appointment.RescheduleRequest{
		ID:          in.AppointmentID,
		PhoneNumber: tc.Phone,
		NewDate:     in.NewDate,
	})
	switch {
	case err == nil:
		return fmt.Sprintf("¡Listo! He reprogramado tu cita para el %s.", clinictime.FormatLong(appt.AppointmentDate, tc.Location))
	case errors.Is(err, appointment.ErrSlotNotOpen):
		return replyRescheduleOff
	case errors.Is(err, appointment.ErrSlotTaken), errors.Is(err, appointment.ErrSlotBeingBooked):
		return replyRescheduleBusy
	case errors.Is(err, appointment.ErrExternalBusy):
		return replyExternalBusy
	case errors.Is(err, appointment.ErrAppointmentNotFound), errors.Is(err, appointment.ErrInvalidRequest):
		return replyRescheduleGone
	}
	return replyStoreTrouble
}
