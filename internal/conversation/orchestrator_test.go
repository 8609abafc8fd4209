package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/inbound"
	"github.com/hackgods/clinic-assistant/internal/notify"
	"github.com/hackgods/clinic-assistant/internal/oracle"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

const caller = "+525512345678"

var testNow = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

type scriptedOracle struct {
	mu       sync.Mutex
	requests []oracle.Request
	decision oracle.Decision
	err      error
}

func (s *scriptedOracle) Decide(_ context.Context, req oracle.Request) (oracle.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.decision, s.err
}

func (s *scriptedOracle) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []notify.Outbound
	mirrors []string
}

func (r *recordingNotifier) Send(_ context.Context, msg notify.Outbound) notify.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return notify.Report{}
}

func (r *recordingNotifier) MirrorInbound(_ context.Context, _, body, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrors = append(r.mirrors, body)
	return errors.New("helpdesk unreachable")
}

type orchestratorFixture struct {
	store    *MemoryStore
	repo     *appointment.MemoryRepository
	booking  *appointment.Service
	oracle   *scriptedOracle
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:    NewMemoryStore(),
		repo:     appointment.NewMemoryRepository(),
		oracle:   &scriptedOracle{},
		notifier: &recordingNotifier{},
	}
	require.NoError(t, f.store.UpdateSettings(context.Background(), ClinicConfig{
		ClinicName: "Clínica Aurora",
		Services:   "Facial, Botox",
		Timezone:   "UTC",
		BotName:    "Sofía",
	}))
	f.booking = appointment.NewService(f.repo, appointment.Options{
		Locker: redisclient.NewLocalLocker(),
		Logger: logging.Discard(),
		Now:    func() time.Time { return testNow },
	})
	f.orch = NewOrchestrator(f.store, f.oracle, NewToolRunner(f.booking, logging.Discard()), f.notifier, OrchestratorConfig{
		HistoryLimit:    10,
		DefaultTimezone: "UTC",
		Now:             func() time.Time { return testNow },
		Logger:          logging.Discard(),
	})
	return f
}

func (f *orchestratorFixture) openSlot(t *testing.T, start time.Time) {
	t.Helper()
	_, err := f.repo.CreateSlot(context.Background(), start, start.Add(time.Hour))
	require.NoError(t, err)
}

func text(body string) inbound.Message {
	return inbound.Message{PhoneNumber: caller, Body: body, Type: inbound.TypeText}
}

func TestHandle_FreeTextReply(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "¡Hola! ¿En qué te ayudo?"}

	reply, err := f.orch.Handle(context.Background(), text("hola"))
	require.NoError(t, err)
	assert.Equal(t, "¡Hola! ¿En qué te ayudo?", reply.Text)

	msgs := f.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, "hola", msgs[0].Content)
	assert.Equal(t, SenderAssistant, msgs[1].Sender)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, caller, f.notifier.sent[0].To)
	assert.Equal(t, []string{"hola"}, f.notifier.mirrors)
}

func TestHandle_PromptCarriesClinicAndUnknownName(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "ok"}

	_, err := f.orch.Handle(context.Background(), text("quiero una cita"))
	require.NoError(t, err)

	req := f.oracle.requests[0]
	assert.Contains(t, req.System, "Eres Sofía, la asistente virtual de Clínica Aurora.")
	assert.Contains(t, req.System, "Servicios: Facial, Botox.")
	assert.Contains(t, req.System, "Nombre: desconocido. Pídelo antes de agendar.")
	assert.Contains(t, req.System, "2025-01-09T12:00")
	assert.Equal(t, "quiero una cita", req.Message)
	assert.Empty(t, req.History)
}

func TestHandle_ProfileNameStoredAndNeverBlanked(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "ok"}
	ctx := context.Background()

	msg := text("hola")
	msg.ProfileName = "Ana"
	_, err := f.orch.Handle(ctx, msg)
	require.NoError(t, err)

	_, err = f.orch.Handle(ctx, text("sigo aquí"))
	require.NoError(t, err)

	name, err := f.store.PatientName(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, "Ana", name)
	assert.Contains(t, f.oracle.requests[1].System, "Nombre: Ana.")
}

func TestHandle_HistoryOldestFirstExcludesCurrentTurn(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "respuesta"}
	ctx := context.Background()

	_, err := f.orch.Handle(ctx, text("primero"))
	require.NoError(t, err)
	_, err = f.orch.Handle(ctx, text("segundo"))
	require.NoError(t, err)

	history := f.oracle.requests[1].History
	require.Len(t, history, 2)
	assert.Equal(t, oracle.Turn{Role: oracle.RoleUser, Text: "primero"}, history[0])
	assert.Equal(t, oracle.Turn{Role: oracle.RoleModel, Text: "respuesta"}, history[1])
	assert.Equal(t, "segundo", f.oracle.requests[1].Message)
}

func TestHandle_PausedCallerGetsNoReply(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "no debería salir"}
	ctx := context.Background()
	require.NoError(t, f.store.SetPaused(ctx, caller, true))

	reply, err := f.orch.Handle(ctx, text("¿hay alguien?"))
	require.NoError(t, err)
	assert.True(t, reply.Paused)
	assert.Zero(t, f.oracle.calls())
	assert.Empty(t, f.notifier.sent)

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderUser, msgs[0].Sender)

	require.NoError(t, f.store.SetPaused(ctx, caller, false))
	_, err = f.orch.Handle(ctx, text("hola"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.oracle.calls())
}

func TestHandle_OracleFailuresProduceApologies(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"quota", &oracle.ProviderError{Code: 429, Err: errors.New("RESOURCE_EXHAUSTED")}, "Sofía ha superado su límite de mensajes disponibles"},
		{"generic", &oracle.ProviderError{Code: 503, Err: errors.New("unavailable")}, "Sofía tiene un inconveniente técnico (Error 503)"},
		{"timeout", context.DeadlineExceeded, "(Error 504)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			f.oracle.err = tc.err

			reply, err := f.orch.Handle(context.Background(), text("hola"))
			require.NoError(t, err)
			assert.Contains(t, reply.Text, tc.want)
			require.Len(t, f.notifier.sent, 1)
		})
	}
}

func TestHandle_NilOracle(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.orch.oracle = nil

	reply, err := f.orch.Handle(context.Background(), text("hola"))
	require.NoError(t, err)
	assert.Equal(t, "Lo siento, Sofía está teniendo problemas de conexión.", reply.Text)
}

func TestHandle_ScheduleToolBooksAndConfirms(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.openSlot(t, time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC))
	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{
		Name: oracle.ToolScheduleAppointment,
		Args: map[string]any{"patient_name": "Ana", "appointment_date": "2025-01-10T13:00", "appointment_type": "Facial"},
	}}

	reply, err := f.orch.Handle(context.Background(), text("el viernes a la 1"))
	require.NoError(t, err)
	assert.Equal(t, "¡Perfecto! He agendado tu cita de Facial para el 10 de enero de 2025 a las 13:00. ¿Te puedo ayudar en algo más?", reply.Text)

	appts, err := f.booking.MyAppointments(context.Background(), caller)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, appointment.StatusPending, appts[0].Status)
}

func TestHandle_ScheduleToolTakenSlot(t *testing.T) {
	f := newOrchestratorFixture(t)
	start := time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC)
	f.openSlot(t, start)
	_, err := f.booking.Schedule(context.Background(), appointment.ScheduleRequest{
		PhoneNumber: "+525599999999", PatientName: "Luis", AppointmentType: "Botox", Date: start,
	})
	require.NoError(t, err)

	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{
		Name: oracle.ToolScheduleAppointment,
		Args: map[string]any{"patient_name": "Ana", "appointment_date": "2025-01-10T13:00", "appointment_type": "Facial"},
	}}
	reply, err := f.orch.Handle(context.Background(), text("a la 1"))
	require.NoError(t, err)
	assert.Equal(t, replyTaken, reply.Text)
}

func TestHandle_MalformedToolCallAsksToRephrase(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{Name: "cancel_everything"}}

	reply, err := f.orch.Handle(context.Background(), text("cancela"))
	require.NoError(t, err)
	assert.Equal(t, replyBadToolCall, reply.Text)
}

func TestHandle_AvailableSlotsTool(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{Name: oracle.ToolGetAvailableSlots}}

	reply, err := f.orch.Handle(context.Background(), text("¿qué horarios hay?"))
	require.NoError(t, err)
	assert.Equal(t, "Por el momento no tengo horarios disponibles en el sistema. Por favor, intenta contactar directamente a Clínica Aurora.", reply.Text)

	f.openSlot(t, time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC))
	reply, err = f.orch.Handle(context.Background(), text("¿y ahora?"))
	require.NoError(t, err)
	assert.Equal(t, "Estos son los horarios que tengo libres próximamente:\n- viernes 10 ene, 13:00\n¿Te queda bien alguno?", reply.Text)
}

func TestHandle_MyAppointmentsAndReschedule(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.openSlot(t, time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC))
	f.openSlot(t, time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC))
	appt, err := f.booking.Schedule(ctx, appointment.ScheduleRequest{
		PhoneNumber: caller, PatientName: "Ana", AppointmentType: "Facial", Date: time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{Name: oracle.ToolGetMyAppointments}}
	reply, err := f.orch.Handle(ctx, text("mis citas"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "- ID 1: Facial el 10/01/2025 13:00")

	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{
		Name: oracle.ToolRescheduleAppointment,
		Args: map[string]any{"appointment_id": float64(appt.ID), "new_date": "2025-01-11T10:00"},
	}}
	reply, err = f.orch.Handle(ctx, text("muévela al sábado"))
	require.NoError(t, err)
	assert.Equal(t, "¡Listo! He reprogramado tu cita para el 11 de enero de 2025 a las 10:00.", reply.Text)

	f.oracle.decision = oracle.Decision{Call: &oracle.ToolCall{
		Name: oracle.ToolRescheduleAppointment,
		Args: map[string]any{"appointment_id": float64(appt.ID), "new_date": "2025-01-12T10:00"},
	}}
	reply, err = f.orch.Handle(ctx, text("mejor el domingo"))
	require.NoError(t, err)
	assert.Equal(t, replyRescheduleOff, reply.Text)

	got, err := f.booking.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.AppointmentDate.Equal(time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
}

type failingStore struct{ *MemoryStore }

func (failingStore) SaveMessage(context.Context, Message) (*Message, error) {
	return nil, errors.New("db down")
}

func TestHandle_PersistFailureIsReturned(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.orch.store = failingStore{f.store}

	_, err := f.orch.Handle(context.Background(), text("hola"))
	require.Error(t, err)
	assert.Zero(t, f.oracle.calls())
}

func TestHandle_SerializesPerCaller(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.oracle.decision = oracle.Decision{Text: "ok"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Handle(context.Background(), text("hola"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs := f.store.Messages()
	require.Len(t, msgs, 16)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, SenderUser, msgs[i].Sender)
		assert.Equal(t, SenderAssistant, msgs[i+1].Sender)
	}
	assert.Zero(t, f.orch.callers.size())
}

func TestSystemPrompt_KnownName(t *testing.T) {
	p := systemPrompt(ClinicConfig{}, "ahora", "Ana")
	assert.True(t, strings.HasPrefix(p, "Eres AI Assistant, la asistente virtual de la clínica."))
	assert.Contains(t, p, "ya tienes su nombre (Ana)")
	assert.Contains(t, p, "Nombre: Ana.")
}
