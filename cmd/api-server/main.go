package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-assistant/internal/api"
	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/auth"
	"github.com/hackgods/clinic-assistant/internal/calendar"
	"github.com/hackgods/clinic-assistant/internal/clinictime"
	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/crm"
	"github.com/hackgods/clinic-assistant/internal/db"
	"github.com/hackgods/clinic-assistant/internal/inbound"
	"github.com/hackgods/clinic-assistant/internal/media"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/internal/notify"
	"github.com/hackgods/clinic-assistant/internal/oracle"
	"github.com/hackgods/clinic-assistant/internal/outbox"
	redisclient "github.com/hackgods/clinic-assistant/internal/redis"
	"github.com/hackgods/clinic-assistant/internal/users"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

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

	// Redis is optional: slot locks fall back to this process and dedup to memory.
	var rdb *redis.Client
	rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-process locks", "error", err)
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	cal, err := calendar.FromConfig(rootCtx, cfg, logger)
	if err != nil {
		logger.Warn("calendar disabled", "error", err)
		cal = calendar.Disabled{}
	}

	var locker redisclient.Locker
	if rdb != nil {
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	} else {
		locker = redisclient.NewLocalLocker()
	}

	repo := appointment.NewPgRepository(pgPool)
	store := conversation.NewPgStore(pgPool)
	notifier := notify.FromConfig(cfg, store, logger, m)

	staffLoc := clinictime.Location(cfg.DefaultTimezone, "UTC")
	consumers := []outbox.Consumer{
		outbox.NewCalendarSync(repo, cal, cfg.GoogleCalendarID, cfg.AppointmentDuration, logger),
		outbox.NewCRMSync(crm.NewPgRepository(pgPool)),
	}
	if cfg.StaffNotifyEmail != "" {
		consumers = append(consumers, outbox.NewStaffEmail(notify.EmailFromConfig(cfg, logger), cfg.StaffNotifyEmail, staffLoc))
	}
	outboxCfg := outbox.Config{
		BatchSize: cfg.OutboxBatchSize,
		Interval:  cfg.OutboxInterval,
		Logger:    logger,
		Metrics:   m,
	}
	if rdb != nil {
		outboxCfg.Locker = redisclient.NewRedisLocker(rdb, time.Minute)
	}
	dispatcher := outbox.NewDispatcher(repo, consumers, outboxCfg)

	booking := appointment.NewService(repo, appointment.Options{
		Locker:     locker,
		Calendar:   cal,
		CalendarID: cfg.GoogleCalendarID,
		Logger:     logger,
		Metrics:    m,
		Duration:   cfg.AppointmentDuration,
		SlotLimit:  cfg.SlotListLimit,
		OnCommit:   dispatcher.Kick,
	})

	var decider oracle.Oracle
	if cfg.GeminiAPIKey != "" {
		g, err := oracle.NewGemini(rootCtx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.OracleTimeout, logger)
		if err != nil {
			logger.Warn("gemini unavailable, replying with fallback text", "error", err)
		} else {
			defer g.Close()
			decider = g
		}
	} else {
		logger.Warn("GEMINI_API_KEY not set, replying with fallback text")
	}

	orchestrator := conversation.NewOrchestrator(store, decider, conversation.NewToolRunner(booking, logger), notifier, conversation.OrchestratorConfig{
		HistoryLimit:    cfg.HistoryLimit,
		DefaultTimezone: cfg.DefaultTimezone,
		Logger:          logger,
		Metrics:         m,
	})

	var dedup inbound.Deduper
	if cfg.DedupBackend == "redis" && rdb != nil {
		dedup = redisclient.NewDeduper(rdb, cfg.DedupWindow)
	} else {
		if cfg.DedupBackend == "redis" {
			logger.Warn("DEDUP_BACKEND=redis but redis is down, using memory")
		}
		dedup = inbound.NewMemoryDeduper(cfg.DedupWindow)
	}
	normalizer := inbound.NewNormalizer(cfg.YCloudFrom, dedup, inbound.NewRelay(cfg.RelayWebhooks, nil, logger), logger)

	var uploads api.Uploader
	if cfg.S3UploadBucket != "" {
		s3c, err := media.NewS3Client(rootCtx, media.ClientConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
		if err != nil {
			logger.Warn("s3 client unavailable, uploads disabled", "error", err)
		} else {
			uploads = media.NewStore(s3c, media.StoreConfig{
				Bucket:        cfg.S3UploadBucket,
				Region:        cfg.AWSRegion,
				PublicBaseURL: cfg.S3PublicBaseURL,
			}, logger)
		}
	}

	routerCfg := api.RouterConfig{
		Engine:          booking,
		Store:           store,
		Normalizer:      normalizer,
		Messages:        orchestrator,
		Sender:          notifier,
		Uploads:         uploads,
		Postgres:        pgPool,
		Redis:           rdb,
		Gatherer:        registry,
		Metrics:         m,
		Logger:          logger,
		CORSOrigins:     cfg.CORSOrigins,
		ChatwootEnabled: cfg.ChatwootActive,
		DefaultTimezone: cfg.DefaultTimezone,
		Env:             cfg.Env,
		Version:         version,
	}

	if cfg.AdminJWTSecret != "" {
		tokens, err := auth.NewManager(cfg.AdminJWTSecret, cfg.AdminTokenTTL)
		if err != nil {
			logger.Error("auth setup error", "error", err)
			os.Exit(1)
		}
		accounts := users.NewAccounts(users.NewPgRepository(pgPool), logger)
		if cfg.AdminEmail != "" {
			if _, err := accounts.EnsureAdmin(rootCtx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
				logger.Error("bootstrap admin error", "error", err)
				os.Exit(1)
			}
		}
		routerCfg.Tokens = tokens
		routerCfg.Accounts = accounts
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, dashboard routes are unauthenticated")
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(workerCtx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Webhook turns call the oracle, the calendar and the provider inline.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopWorkers()
	<-dispatcherDone
	// Deliver whatever the last requests committed.
	if n, err := dispatcher.Drain(shutdownCtx); err != nil {
		logger.Warn("outbox drain error", "error", err, "delivered", n)
	}

	logger.Info("api-server stopped")
}
