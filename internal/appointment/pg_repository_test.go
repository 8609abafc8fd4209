package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apptCols = []string{"id", "phone_number", "patient_name", "appointment_date", "appointment_type", "status", "reminder_sent", "external_event_id", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgCreateAppointment_WritesEventInSameTx(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("+525511111111", "Ana", date, "Facial", "pending").
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(int64(1), "+525511111111", "Ana", date, "Facial", "pending", false, (*string)(nil), now, now))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs("appointment.created", int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.CreateAppointment(context.Background(), NewAppointment{
		PhoneNumber: "+525511111111", PatientName: "Ana", AppointmentDate: date, AppointmentType: "Facial", Status: StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Nil(t, appt.ExternalEventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateAppointment_UniqueViolationIsSlotTaken(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("+525522222222", "Luis", date, "Botox", "pending").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeDateIndex})
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), NewAppointment{
		PhoneNumber: "+525522222222", PatientName: "Luis", AppointmentDate: date, AppointmentType: "Botox", Status: StatusPending,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleAppointment_NoMatchingRow(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2025, 1, 11, 16, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT appointment_date FROM appointments").
		WithArgs(int64(7), "+525511111111").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.RescheduleAppointment(context.Background(), 7, "+525511111111", date)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleAppointment_RecordsPreviousDate(t *testing.T) {
	mock, repo := newMockRepo(t)
	previous := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)
	date := time.Date(2025, 1, 11, 16, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT appointment_date FROM appointments").
		WithArgs(int64(7), "").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_date"}).AddRow(previous))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(7), date).
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(int64(7), "+525511111111", "Ana", date, "Facial", "confirmed", false, (*string)(nil), now, now))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs("appointment.rescheduled", int64(7), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.RescheduleAppointment(context.Background(), 7, "", date)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindCoveringSlot_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	ts := time.Date(2025, 1, 11, 16, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM availability").WithArgs(ts).WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindCoveringSlot(context.Background(), ts)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListActiveByPhone(t *testing.T) {
	mock, repo := newMockRepo(t)
	date := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	eventID := "evt-1"

	mock.ExpectQuery("WHERE phone_number = \\$1 AND status <> 'cancelled'").
		WithArgs("+525511111111").
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(int64(3), "+525511111111", "Ana", date, "Facial", "confirmed", true, &eventID, now, now))

	appts, err := repo.ListActiveByPhone(context.Background(), "+525511111111")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	require.NotNil(t, appts[0].ExternalEventID)
	assert.Equal(t, "evt-1", *appts[0].ExternalEventID)
	assert.True(t, appts[0].ReminderSent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkReminderSent_OnlyOnce(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec("UPDATE appointments SET reminder_sent = true").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments SET reminder_sent = true").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.MarkReminderSent(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkReminderSent(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPendingEvents(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM booking_events").
		WithArgs(25).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_type", "appointment_id", "payload", "created_at"}).
			AddRow(int64(9), "appointment.cancelled", int64(3), []byte(`{"appointment":{"id":3}}`), now))

	events, err := repo.PendingEvents(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Type)

	payload, err := events[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(3), payload.Appointment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSetExternalEventID_EmptyClears(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec(`external_event_id = NULLIF\(\$2, ''\)`).
		WithArgs(int64(7), "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SetExternalEventID(context.Background(), 7, ""))

	mock.ExpectExec("UPDATE appointments SET external_event_id").
		WithArgs(int64(8), "gcal-8").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SetExternalEventID(context.Background(), 8, "gcal-8"), ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
