package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/notify"
)

// StaffEmail tells the front desk about every booking change.
type StaffEmail struct {
	sender notify.EmailSender
	to     string
	loc    *time.Location
}

func NewStaffEmail(sender notify.EmailSender, to string, loc *time.Location) *StaffEmail {
	if loc == nil {
		loc = time.UTC
	}
	return &StaffEmail{sender: sender, to: to, loc: loc}
}

func (s *StaffEmail) Name() string { return "staff_email" }

func (s *StaffEmail) Handle(ctx context.Context, evt appointment.Event, p appointment.EventPayload) error {
	a := p.Appointment
	when := clinictime.FormatLong(a.AppointmentDate, s.loc)

	var subject, body string
	switch evt.Type {
	case appointment.EventCreated:
		subject = "Nueva cita: " + a.PatientName
		body = fmt.Sprintf("%s agendó %s para el %s.", a.PatientName, a.AppointmentType, when)
	case appointment.EventRescheduled:
		subject = "Cita reprogramada: " + a.PatientName
		body = fmt.Sprintf("La cita #%d de %s (%s) ahora es el %s.", a.ID, a.PatientName, a.AppointmentType, when)
		if p.PreviousDate != nil {
			body += fmt.Sprintf(" Antes: %s.", clinictime.FormatLong(*p.PreviousDate, s.loc))
		}
	case appointment.EventConfirmed:
		subject = "Cita confirmada: " + a.PatientName
		body = fmt.Sprintf("La cita #%d de %s (%s) del %s quedó confirmada.", a.ID, a.PatientName, a.AppointmentType, when)
	case appointment.EventCancelled:
		subject = "Cita cancelada: " + a.PatientName
		body = fmt.Sprintf("La cita #%d de %s (%s) del %s fue cancelada.", a.ID, a.PatientName, a.AppointmentType, when)
	default:
		return nil
	}
	body += fmt.Sprintf("\nTeléfono: %s", a.PhoneNumber)

	return s.sender.Send(ctx, notify.EmailMessage{To: s.to, Subject: subject, Body: body})
}
