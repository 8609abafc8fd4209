package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-assistant/internal/db"
)

// activeDateIndex is the partial unique index on appointment_date for
// non-cancelled rows. It is the final double-booking guard.
const activeDateIndex = "appointments_active_date_uniq"

const appointmentColumns = `id, phone_number, patient_name, appointment_date, appointment_type, status, reminder_sent, external_event_id, created_at, updated_at`

type PgRepository struct {
	db db.Querier
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

// Helpers

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot
	err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var externalID *string

	err := row.Scan(
		&a.ID,
		&a.PhoneNumber,
		&a.PatientName,
		&a.AppointmentDate,
		&a.AppointmentType,
		&status,
		&a.ReminderSent,
		&externalID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.ExternalEventID = externalID
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_events (event_type, appointment_id, payload)
		VALUES ($1, $2, $3)
	`, string(ev.Type), ev.AppointmentID, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func mapWriteErr(err error) error {
	if db.IsUniqueViolation(err, activeDateIndex) {
		return ErrSlotTaken
	}
	return err
}

// Availability

func (r *PgRepository) ListSlots(ctx context.Context, after time.Time) ([]AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, start_time, end_time, created_at
		FROM availability
		WHERE start_time > $1
		ORDER BY start_time
	`, after)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()

	var out []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgRepository) FindCoveringSlot(ctx context.Context, t time.Time) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, start_time, end_time, created_at
		FROM availability
		WHERE start_time <= $1 AND end_time > $1
		ORDER BY start_time
		LIMIT 1
	`, t)
	return scanSlot(row)
}

func (r *PgRepository) CreateSlot(ctx context.Context, start, end time.Time) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO availability (start_time, end_time)
		VALUES ($1, $2)
		RETURNING id, start_time, end_time, created_at
	`, start, end)
	return scanSlot(row)
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) FindActiveAt(ctx context.Context, t time.Time, excludeID int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1
		  AND status <> 'cancelled'
		  AND id <> $2
		LIMIT 1
	`, t, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) ActiveDatesAfter(ctx context.Context, after time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT appointment_date
		FROM appointments
		WHERE appointment_date > $1 AND status <> 'cancelled'
	`, after)
	if err != nil {
		return nil, fmt.Errorf("list booked dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments ORDER BY appointment_date`)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveByPhone(ctx context.Context, phone string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE phone_number = $1 AND status <> 'cancelled'
		ORDER BY appointment_date
	`, phone)
	if err != nil {
		return nil, fmt.Errorf("list appointments by phone: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	var created *Appointment
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (phone_number, patient_name, appointment_date, appointment_type, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+appointmentColumns, in.PhoneNumber, in.PatientName, in.AppointmentDate, in.AppointmentType, string(in.Status))
		a, err := scanAppointment(row)
		if err != nil {
			return mapWriteErr(err)
		}
		ev, err := newEvent(EventCreated, *a, nil)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id int64, phone string, newDate time.Time) (*Appointment, error) {
	var updated *Appointment
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var previous time.Time
		err := tx.QueryRow(ctx, `
			SELECT appointment_date FROM appointments
			WHERE id = $1 AND ($2 = '' OR phone_number = $2)
			FOR UPDATE
		`, id, phone).Scan(&previous)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAppointmentNotFound
			}
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET appointment_date = $2,
			    status = 'confirmed',
			    updated_at = now()
			WHERE id = $1
			RETURNING `+appointmentColumns, id, newDate)
		a, err := scanAppointment(row)
		if err != nil {
			return mapWriteErr(err)
		}
		ev, err := newEvent(EventRescheduled, *a, &previous)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, status Status) (*Appointment, error) {
	var updated *Appointment
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var previous string
		err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAppointmentNotFound
			}
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+appointmentColumns, id, string(status))
		a, err := scanAppointment(row)
		if err != nil {
			// un-cancelling onto a taken timestamp
			return mapWriteErr(err)
		}
		updated = a

		typ, ok := statusEvent(Status(previous), status)
		if !ok {
			return nil
		}
		ev, err := newEvent(typ, *a, nil)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) SetExternalEventID(ctx context.Context, id int64, eventID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET external_event_id = NULLIF($2, ''), updated_at = now() WHERE id = $1
	`, id, eventID)
	if err != nil {
		return fmt.Errorf("set external event id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Reminders

func (r *PgRepository) DueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND reminder_sent = false
		  AND appointment_date > $1
		  AND appointment_date <= $2
		ORDER BY appointment_date
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET reminder_sent = true, updated_at = now()
		WHERE id = $1 AND reminder_sent = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Outbox

func (r *PgRepository) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM booking_events
		WHERE delivered_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch booking events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.ID, &typ, &ev.AppointmentID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking event: %w", err)
		}
		ev.Type = EventType(typ)
		ev.Payload = append([]byte(nil), payload...)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PgRepository) MarkEventDelivered(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE booking_events SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark booking event delivered: %w", err)
	}
	return nil
}

// statusEvent picks the outbox event for a status transition, if any.
func statusEvent(from, to Status) (EventType, bool) {
	if from == to {
		return "", false
	}
	switch to {
	case StatusCancelled:
		return EventCancelled, true
	case StatusConfirmed:
		return EventConfirmed, true
	}
	return "", false
}
