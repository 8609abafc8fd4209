package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/calendar"
	"github.com/hackgods/clinic-assistant/internal/crm"
	"github.com/hackgods/clinic-assistant/internal/notify"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var now = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	calendar.Disabled
	mu      sync.Mutex
	created []calendar.EventInput
	updated map[string]calendar.EventPatch
	deleted []string
	fail    error
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, in calendar.EventInput) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = append(f.created, in)
	return &calendar.Event{ID: "gcal-" + in.Metadata[calendar.MetaAppointmentID], Start: in.Start, End: in.End}, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _ string, id string, patch calendar.EventPatch) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = map[string]calendar.EventPatch{}
	}
	f.updated[id] = patch
	return &calendar.Event{ID: id}, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return true, nil
}

type fakeCRM struct {
	customers map[string]string
	stages    map[int64]crm.Stage
	history   []crm.Stage
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{customers: map[string]string{}, stages: map[int64]crm.Stage{}}
}

func (f *fakeCRM) UpsertCustomer(_ context.Context, phone, name string) (*crm.Customer, error) {
	if name != "" || f.customers[phone] == "" {
		f.customers[phone] = name
	}
	return &crm.Customer{ID: 1, PhoneNumber: phone, Name: f.customers[phone]}, nil
}

func (f *fakeCRM) OpenOpportunity(_ context.Context, customerID, appointmentID int64, title string) (*crm.Opportunity, error) {
	if _, ok := f.stages[appointmentID]; !ok {
		f.stages[appointmentID] = crm.StageScheduled
		f.history = append(f.history, crm.StageScheduled)
	}
	return &crm.Opportunity{CustomerID: customerID, AppointmentID: appointmentID, Title: title, Stage: f.stages[appointmentID]}, nil
}

func (f *fakeCRM) MoveStage(_ context.Context, appointmentID int64, stage crm.Stage) (bool, error) {
	cur, ok := f.stages[appointmentID]
	if !ok {
		return false, crm.ErrOpportunityNotFound
	}
	if cur == stage {
		return false, nil
	}
	f.stages[appointmentID] = stage
	f.history = append(f.history, stage)
	return true, nil
}

type fixture struct {
	repo  *appointment.MemoryRepository
	svc   *appointment.Service
	cal   *fakeCalendar
	crm   *fakeCRM
	email *notify.StubEmailSender
	d     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  appointment.NewMemoryRepository(),
		cal:   &fakeCalendar{},
		crm:   newFakeCRM(),
		email: notify.NewStubEmailSender(logging.Discard()),
	}
	f.svc = appointment.NewService(f.repo, appointment.Options{
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
	})
	f.d = NewDispatcher(f.repo, []Consumer{
		NewCalendarSync(f.repo, f.cal, "clinic@example.com", 30*time.Minute, logging.Discard()),
		NewCRMSync(f.crm),
		NewStaffEmail(f.email, "staff@clinic.example", time.UTC),
	}, Config{BatchSize: 2, Logger: logging.Discard()})

	ctx := context.Background()
	for _, day := range []int{10, 11} {
		start := time.Date(2025, 1, day, 10, 0, 0, 0, time.UTC)
		_, err := f.repo.CreateSlot(ctx, start, start.Add(4*time.Hour))
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) book(t *testing.T) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.Schedule(context.Background(), appointment.ScheduleRequest{
		PhoneNumber: "+525512345678", PatientName: "Ana", AppointmentType: "Facial",
		Date: time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return a
}

func TestDrain_CreateBackfillsExternalID(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)

	n, err := f.d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.cal.created, 1)
	in := f.cal.created[0]
	assert.Equal(t, "Cita: Facial - Ana", in.Summary)
	assert.True(t, in.End.Equal(a.AppointmentDate.Add(30*time.Minute)))
	assert.Equal(t, "+525512345678", in.Metadata[calendar.MetaPhone])

	got, err := f.repo.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalEventID)
	assert.Equal(t, "gcal-1", *got.ExternalEventID)

	assert.Equal(t, crm.StageScheduled, f.crm.stages[a.ID])
	sent := f.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Nueva cita: Ana", sent[0].Subject)

	pending, err := f.repo.PendingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrain_RescheduleAndCancelFollowExternalEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t)
	_, err := f.d.Drain(ctx)
	require.NoError(t, err)

	newDate := time.Date(2025, 1, 11, 11, 0, 0, 0, time.UTC)
	_, err = f.svc.Reschedule(ctx, appointment.RescheduleRequest{ID: a.ID, PhoneNumber: a.PhoneNumber, NewDate: newDate})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	n, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	patch, ok := f.cal.updated["gcal-1"]
	require.True(t, ok)
	assert.True(t, patch.Start.Equal(newDate))
	assert.Equal(t, []string{"gcal-1"}, f.cal.deleted)

	assert.Equal(t, []crm.Stage{crm.StageScheduled, crm.StageConfirmed, crm.StageCancelled}, f.crm.history)
	subjects := []string{}
	for _, m := range f.email.Sent() {
		subjects = append(subjects, m.Subject)
	}
	assert.Equal(t, []string{"Nueva cita: Ana", "Cita reprogramada: Ana", "Cita cancelada: Ana"}, subjects)
}

func TestCalendarSync_RecreatesMirrorAfterReactivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t)
	_, err := f.d.Drain(ctx)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gcal-1"}, f.cal.deleted)
	got, err := f.repo.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExternalEventID)

	_, err = f.svc.UpdateStatus(ctx, a.ID, appointment.StatusConfirmed)
	require.NoError(t, err)
	_, err = f.d.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, f.cal.created, 2)
	assert.True(t, f.cal.created[1].Start.Equal(a.AppointmentDate))
	got, err = f.repo.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalEventID)
	assert.Equal(t, "gcal-1", *got.ExternalEventID)
	assert.Empty(t, f.cal.updated)
}

func TestCalendarSync_RescheduleWithoutMirrorCreatesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t)
	_, err := f.d.Drain(ctx)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.d.Drain(ctx)
	require.NoError(t, err)

	newDate := time.Date(2025, 1, 11, 11, 0, 0, 0, time.UTC)
	_, err = f.svc.Reschedule(ctx, appointment.RescheduleRequest{ID: a.ID, PhoneNumber: a.PhoneNumber, NewDate: newDate})
	require.NoError(t, err)
	_, err = f.d.Drain(ctx)
	require.NoError(t, err)

	require.Len(t, f.cal.created, 2)
	assert.True(t, f.cal.created[1].Start.Equal(newDate))
	assert.Empty(t, f.cal.updated, "a deleted event must not be patched")
}

func TestDrain_ConsumerFailureStillMarksDelivered(t *testing.T) {
	f := newFixture(t)
	f.cal.fail = errors.New("calendar quota")
	a := f.book(t)

	n, err := f.d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExternalEventID)
	assert.Equal(t, crm.StageScheduled, f.crm.stages[a.ID])

	n, err = f.d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_PagesThroughBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		start := time.Date(2025, 1, 10, 10, i*10, 0, 0, time.UTC)
		_, err := f.svc.Schedule(ctx, appointment.ScheduleRequest{
			PhoneNumber: "+525512345678", PatientName: "Ana", AppointmentType: "Facial", Date: start,
		})
		require.NoError(t, err)
	}

	n, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, f.cal.created, 5)
}

func TestCRMSync_OpensMissingOpportunityOnMove(t *testing.T) {
	fc := newFakeCRM()
	consumer := NewCRMSync(fc)
	evt := appointment.Event{ID: 1, Type: appointment.EventCancelled, AppointmentID: 9}
	payload := appointment.EventPayload{Appointment: appointment.Appointment{ID: 9, PhoneNumber: "+525512345678", PatientName: "Ana"}}

	require.NoError(t, consumer.Handle(context.Background(), evt, payload))
	assert.Equal(t, crm.StageCancelled, fc.stages[9])
}

func TestStartDrainsOnKick(t *testing.T) {
	f := newFixture(t)
	f.d.interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.d.Start(ctx)
		close(done)
	}()

	f.book(t)
	f.d.Kick()

	assert.Eventually(t, func() bool {
		return len(f.email.Sent()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestDrain_SkipsWhileAnotherInstanceHoldsTheLock(t *testing.T) {
	f := newFixture(t)
	locker := redisclient.NewLocalLocker()
	f.d = NewDispatcher(f.repo, []Consumer{NewCRMSync(f.crm)}, Config{Locker: locker, Logger: logging.Discard()})
	f.book(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, DrainLockKey, func(ctx context.Context) error {
		n, err := f.d.Drain(ctx)
		assert.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)

	n, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
