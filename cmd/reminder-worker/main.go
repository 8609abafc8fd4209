package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/db"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/internal/notify"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/internal/reminder"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "reminder-worker")
	logger.Info("reminder-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "window", cfg.ReminderWindow)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// The sweep lock lives one interval so a crashed worker never blocks the next tick.
	var locker redisclient.Locker
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, sweeping without a shared lock", "error", err)
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to Redis")
		locker = redisclient.NewRedisLocker(rdb, cfg.WorkerInterval)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	store := conversation.NewPgStore(pgPool)
	sweeper := reminder.NewSweeper(appointment.NewPgRepository(pgPool), store, notify.FromConfig(cfg, store, logger, m), reminder.Config{
		Window:          cfg.ReminderWindow,
		DefaultTimezone: cfg.DefaultTimezone,
		Locker:          locker,
		Logger:          logger,
		Metrics:         m,
	})

	// Run once at startup
	runOnce(rootCtx, sweeper, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, sweeper, logger)
		}
	}
}

func runOnce(ctx context.Context, sweeper *reminder.Sweeper, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	start := time.Now()
	res, err := sweeper.RunOnce(runCtx)
	if err != nil {
		logger.Error("reminder run error", "error", err)
		return
	}
	if res.Skipped {
		logger.Debug("reminder run skipped, another worker holds the sweep")
		return
	}
	logger.Info("reminder run complete", "due", res.Due, "sent", res.Sent, "failed", res.Failed, "took", time.Since(start))
}
