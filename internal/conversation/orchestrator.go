package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/inbound"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/internal/notify"
	"github.com/hackgods/clinic-assistant/internal/oracle"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Notifier is the outbound side the orchestrator talks to.
type Notifier interface {
	Send(ctx context.Context, msg notify.Outbound) notify.Report
	MirrorInbound(ctx context.Context, phone, body, msgType, mediaURL string) error
}

var _ Notifier = (*notify.Notifier)(nil)

type OrchestratorConfig struct {
	HistoryLimit    int
	DefaultTimezone string
	Now             func() time.Time
	Logger          *logging.Logger
	Metrics         *metrics.Metrics
}

// Reply is the outcome of one handled message. Paused means the assistant
// stayed silent because a human has taken over the chat.
type Reply struct {
	Text   string
	Paused bool
	Report notify.Report
}

// Orchestrator runs one inbound message through persistence, the pause gate,
// the oracle and the booking tools, then delivers the reply.
type Orchestrator struct {
	store    Store
	oracle   oracle.Oracle
	tools    *ToolRunner
	notifier Notifier
	cfg      OrchestratorConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics
	callers  *keyedMutex
}

// NewOrchestrator wires the pipeline. A nil oracle answers every turn with a
// connection apology.
func NewOrchestrator(store Store, decider oracle.Oracle, tools *ToolRunner, notifier Notifier, cfg OrchestratorConfig) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Orchestrator{
		store:    store,
		oracle:   decider,
		tools:    tools,
		notifier: notifier,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		callers:  newKeyedMutex(),
	}
}

// Handle processes msg. The only error returned is a failure to persist the
// inbound message; everything after that is logged and absorbed.
func (o *Orchestrator) Handle(ctx context.Context, msg inbound.Message) (Reply, error) {
	unlock := o.callers.Lock(msg.PhoneNumber)
	defer unlock()

	log := o.logger.With("phone", msg.PhoneNumber)

	saved, err := o.store.SaveMessage(ctx, Message{
		PhoneNumber:       msg.PhoneNumber,
		Content:           msg.Body,
		Sender:            SenderUser,
		MessageType:       string(msg.Type),
		MediaURL:          msg.MediaURL,
		ProviderMessageID: msg.ProviderMessageID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("persist inbound message: %w", err)
	}

	if err := o.store.UpsertPatientName(ctx, msg.PhoneNumber, msg.ProfileName); err != nil {
		log.Warn("patient profile upsert failed", "error", err)
	}

	if o.notifier != nil {
		if err := o.notifier.MirrorInbound(ctx, msg.PhoneNumber, msg.Body, string(msg.Type), msg.MediaURL); err != nil {
			log.Warn("inbound helpdesk mirror failed", "error", err)
		}
	}

	status, err := o.store.ChatStatus(ctx, msg.PhoneNumber)
	if err != nil {
		log.Error("chat status lookup failed, answering anyway", "error", err)
	}
	if status.Paused {
		log.Info("assistant paused for caller, skipping reply")
		return Reply{Paused: true}, nil
	}

	settings, err := o.store.Settings(ctx)
	if err != nil && !errors.Is(err, ErrSettingsNotFound) {
		log.Error("clinic settings lookup failed, using defaults", "error", err)
	}
	loc := settings.Location(o.cfg.DefaultTimezone)

	history, err := o.store.RecentMessages(ctx, msg.PhoneNumber, o.cfg.HistoryLimit, saved.ID)
	if err != nil {
		log.Error("history lookup failed, continuing without context", "error", err)
		history = nil
	}
	patientName, err := o.store.PatientName(ctx, msg.PhoneNumber)
	if err != nil {
		log.Warn("patient name lookup failed", "error", err)
	}

	text := o.decide(ctx, msg, settings, loc, history, patientName)

	if _, err := o.store.SaveMessage(ctx, Message{
		PhoneNumber: msg.PhoneNumber,
		Content:     text,
		Sender:      SenderAssistant,
		MessageType: "text",
	}); err != nil {
		log.Error("persist reply failed", "error", err)
	}

	reply := Reply{Text: text}
	if o.notifier != nil {
		reply.Report = o.notifier.Send(ctx, notify.Outbound{To: msg.PhoneNumber, Body: text})
	}
	return reply, nil
}

func (o *Orchestrator) decide(ctx context.Context, msg inbound.Message, settings ClinicConfig, loc *time.Location, history []Message, patientName string) string {
	bot := settings.Bot()
	if o.oracle == nil {
		return fmt.Sprintf("Lo siento, %s está teniendo problemas de conexión.", bot)
	}

	req := oracle.Request{
		System:  systemPrompt(settings, clinictime.Now(o.cfg.Now(), loc), patientName),
		History: turns(history),
		Message: msg.Body,
	}

	start := time.Now()
	decision, err := o.oracle.Decide(ctx, req)
	if err != nil {
		kind, code := oracle.Classify(err)
		o.metrics.ObserveOracle(string(kind), time.Since(start))
		o.logger.Error("oracle call failed", "error", err, "phone", msg.PhoneNumber, "kind", kind, "code", code)
		if kind == oracle.FailureQuota {
			return fmt.Sprintf("%s ha superado su límite de mensajes disponibles. Por favor, intenta de nuevo más tarde.", bot)
		}
		return fmt.Sprintf("%s tiene un inconveniente técnico (Error %d). Por favor, contacta a soporte.", bot, code)
	}

	if decision.Call == nil {
		o.metrics.ObserveOracle("text", time.Since(start))
		if decision.Text == "" {
			return fmt.Sprintf("Lo siento, %s está teniendo problemas de conexión.", bot)
		}
		return decision.Text
	}
	o.metrics.ObserveOracle("tool", time.Since(start))

	intent, err := oracle.ParseToolCall(*decision.Call, loc)
	if err != nil {
		o.logger.Warn("malformed tool call", "error", err, "phone", msg.PhoneNumber, "tool", decision.Call.Name)
		return replyBadToolCall
	}
	return o.tools.Run(ctx, intent, turnContext{Phone: msg.PhoneNumber, Settings: settings, Location: loc})
}

func turns(history []Message) []oracle.Turn {
	out := make([]oracle.Turn, 0, len(history))
	for _, m := range history {
		role := oracle.RoleUser
		if m.Sender == SenderAssistant {
			role = oracle.RoleModel
		}
		out = append(out, oracle.Turn{Role: role, Text: m.Content})
	}
	return out
}
