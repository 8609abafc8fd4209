// Package outbox delivers booking events to the consumers that mirror a
// committed change elsewhere: the clinic calendar, the CRM and staff email.
// Each consumer gets one attempt per event; failures are logged, not retried.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Store is the event side of the Schedule Store.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]appointment.Event, error)
	MarkEventDelivered(ctx context.Context, id int64) error
}

// Consumer reacts to one booking event.
type Consumer interface {
	Name() string
	Handle(ctx context.Context, evt appointment.Event, payload appointment.EventPayload) error
}

// DrainLockKey keeps dispatchers on different instances from delivering the
// same pending events.
const DrainLockKey = "outbox-drain"

type Config struct {
	BatchSize int
	Interval  time.Duration
	// Locker is optional. Without it the dispatcher assumes it is alone.
	Locker  redisclient.Locker
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

type Dispatcher struct {
	store     Store
	consumers []Consumer
	batchSize int
	interval  time.Duration
	locker    redisclient.Locker
	logger    *logging.Logger
	metrics   *metrics.Metrics
	kick      chan struct{}
}

func NewDispatcher(store Store, consumers []Consumer, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dispatcher{
		store:     store,
		consumers: consumers,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		locker:    cfg.Locker,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		kick:      make(chan struct{}, 1),
	}
}

// Kick asks the running dispatcher to drain now. It never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start drains on every tick or kick until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox drain failed", "error", err)
		}
	}
}

// Drain delivers pending events until a short batch comes back and returns
// how many were marked delivered. When another instance holds the drain lock
// it returns (0, nil) and leaves the events to that instance.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	if d.locker == nil {
		return d.drain(ctx)
	}
	var delivered int
	err := d.locker.WithLock(ctx, DrainLockKey, func(ctx context.Context) error {
		var err error
		delivered, err = d.drain(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return 0, nil
	}
	return delivered, err
}

func (d *Dispatcher) drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		events, err := d.store.PendingEvents(ctx, d.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("fetch pending events: %w", err)
		}
		for _, evt := range events {
			d.deliver(ctx, evt)
			if err := d.store.MarkEventDelivered(ctx, evt.ID); err != nil {
				return delivered, fmt.Errorf("mark event %d delivered: %w", evt.ID, err)
			}
			delivered++
		}
		if len(events) < d.batchSize {
			return delivered, nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt appointment.Event) {
	payload, err := evt.Decode()
	if err != nil {
		d.logger.Error("undecodable booking event dropped", "error", err, "event_id", evt.ID, "type", evt.Type)
		return
	}
	for _, c := range d.consumers {
		err := c.Handle(ctx, evt, payload)
		d.metrics.ObserveOutbox(c.Name(), err)
		if err != nil {
			d.logger.Error("booking event consumer failed",
				"error", err,
				"consumer", c.Name(),
				"event_id", evt.ID,
				"type", evt.Type,
				"appointment_id", evt.AppointmentID,
			)
		}
	}
}
