// Package reminder sends the day-before reminder for confirmed appointments.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/internal/notify"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// SweepLockKey keeps two workers from sweeping at once.
const SweepLockKey = "reminder-sweep"

type AppointmentStore interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]appointment.Appointment, error)
	MarkReminderSent(ctx context.Context, id int64) (bool, error)
}

type ConversationStore interface {
	SaveMessage(ctx context.Context, m conversation.Message) (*conversation.Message, error)
	Settings(ctx context.Context) (conversation.ClinicConfig, error)
}

type Sender interface {
	Send(ctx context.Context, msg notify.Outbound) notify.Report
}

type Config struct {
	Window          time.Duration
	DefaultTimezone string
	Locker          redisclient.Locker
	Now             func() time.Time
	Logger          *logging.Logger
	Metrics         *metrics.Metrics
}

// Result summarizes one sweep.
type Result struct {
	Due     int
	Sent    int
	Failed  int
	Skipped bool
}

type Sweeper struct {
	appts   AppointmentStore
	convo   ConversationStore
	sender  Sender
	window  time.Duration
	tz      string
	locker  redisclient.Locker
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewSweeper(appts AppointmentStore, convo ConversationStore, sender Sender, cfg Config) *Sweeper {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Sweeper{
		appts:   appts,
		convo:   convo,
		sender:  sender,
		window:  cfg.Window,
		tz:      cfg.DefaultTimezone,
		locker:  cfg.Locker,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// RunOnce sends every reminder due within the window. A sweep already held
// by another worker is reported as Skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	if s.locker == nil {
		return s.sweep(ctx)
	}

	var res Result
	ran := false
	err := s.locker.WithLock(ctx, SweepLockKey, func(ctx context.Context) error {
		ran = true
		var err error
		res, err = s.sweep(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return Result{Skipped: true}, nil
	case err != nil && !ran:
		s.logger.Warn("sweep lock unavailable, sweeping without it", "error", err)
		return s.sweep(ctx)
	}
	return res, err
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	settings, err := s.convo.Settings(ctx)
	if err != nil && !errors.Is(err, conversation.ErrSettingsNotFound) {
		s.logger.Warn("clinic settings unavailable, using defaults", "error", err)
	}
	loc := settings.Location(s.tz)

	now := s.now()
	due, err := s.appts.DueReminders(ctx, now, now.Add(s.window))
	if err != nil {
		return Result{}, fmt.Errorf("load due reminders: %w", err)
	}

	res := Result{Due: len(due)}
	for _, a := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if s.remind(ctx, a, settings, loc) {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// remind sends, records and marks one reminder. The mark happens after the
// send attempt whatever its outcome; a crash in between resends next sweep.
func (s *Sweeper) remind(ctx context.Context, a appointment.Appointment, settings conversation.ClinicConfig, loc *time.Location) bool {
	log := s.logger.With("appointment_id", a.ID, "phone", a.PhoneNumber)
	text := Message(a, settings.Bot(), loc)

	rep := s.sender.Send(ctx, notify.Outbound{To: a.PhoneNumber, Body: text})
	s.metrics.ObserveReminder(rep.DirectErr)
	if rep.DirectErr != nil {
		log.Error("reminder delivery failed", "error", rep.DirectErr)
	}

	if _, err := s.convo.SaveMessage(ctx, conversation.Message{
		PhoneNumber: a.PhoneNumber,
		Content:     text,
		Sender:      conversation.SenderAssistant,
		MessageType: "text",
	}); err != nil {
		log.Error("persist reminder message failed", "error", err)
	}

	marked, err := s.appts.MarkReminderSent(ctx, a.ID)
	if err != nil {
		log.Error("mark reminder sent failed", "error", err)
		return false
	}
	if !marked {
		log.Warn("reminder already marked by another sweep")
	}
	return rep.DirectErr == nil
}

// Message renders the reminder text.
func Message(a appointment.Appointment, bot string, loc *time.Location) string {
	return fmt.Sprintf("👋 Hola %s, paso a recordarte de parte de %s que tienes una cita de %s el %s. ¡Nos vemos pronto!",
		a.PatientName, bot, a.AppointmentType, clinictime.FormatDay(a.AppointmentDate, loc))
}
