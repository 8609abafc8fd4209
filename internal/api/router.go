package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-assistant/internal/auth"
	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

type RouterConfig struct {
	Engine     BookingEngine
	Store      conversation.Store
	Normalizer WebhookNormalizer
	Messages   MessageHandler
	Sender     OutboundSender
	Uploads    Uploader
	// Accounts and Tokens are optional; without Tokens the dashboard is open.
	Accounts AccountService
	Tokens   *auth.Manager

	Postgres        Pinger
	Redis           *redis.Client
	Gatherer        prometheus.Gatherer
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
	CORSOrigins     []string
	ChatwootEnabled bool
	DefaultTimezone string
	Now             func() time.Time
	Env             string
	Version         string
}

type handlers struct {
	engine          BookingEngine
	store           conversation.Store
	normalizer      WebhookNormalizer
	messages        MessageHandler
	sender          OutboundSender
	uploads         Uploader
	accounts        AccountService
	tokens          *auth.Manager
	metrics         *metrics.Metrics
	logger          *logging.Logger
	chatwootEnabled bool
	defaultTimezone string
	now             func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &handlers{
		engine:          cfg.Engine,
		store:           cfg.Store,
		normalizer:      cfg.Normalizer,
		messages:        cfg.Messages,
		sender:          cfg.Sender,
		uploads:         cfg.Uploads,
		accounts:        cfg.Accounts,
		tokens:          cfg.Tokens,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		chatwootEnabled: cfg.ChatwootEnabled,
		defaultTimezone: cfg.DefaultTimezone,
		now:             cfg.Now,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	// provider callbacks carry no dashboard token
	r.Post("/api/webhook/whatsapp", h.whatsappWebhook)
	r.Post("/api/webhook/chatwoot", h.chatwootWebhook)
	r.Post("/api/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(RequireToken(cfg.Tokens, cfg.Now))

		r.Get("/api/availability", h.listSlots)
		r.Post("/api/availability", h.createSlot)
		r.Delete("/api/availability/{id}", h.deleteSlot)

		r.Get("/api/appointments", h.listAppointments)
		r.Post("/api/appointments", h.createAppointment)
		r.Get("/api/appointments/{id}", h.getAppointment)
		r.Put("/api/appointments/{id}", h.updateAppointment)
		r.Delete("/api/appointments/{id}", h.deleteAppointment)

		r.Get("/api/messages", h.listMessages)
		r.Post("/api/messages", h.sendMessage)

		r.Get("/api/settings", h.getSettings)
		r.Put("/api/settings", h.updateSettings)

		r.Post("/api/chats/update-name", h.updateName)
		r.Get("/api/chats/status/{phone}", h.chatStatus)
		r.Post("/api/chats/toggle-pause", h.togglePause)

		r.Post("/api/upload", h.upload)

		if cfg.Accounts != nil {
			r.Route("/api/users", func(r chi.Router) {
				r.Use(RequireRole("admin"))
				r.Get("/", h.listUsers)
				r.Post("/", h.createUser)
				r.Put("/{id}", h.updateUser)
				r.Delete("/{id}", h.deleteUser)
			})
		}
	})

	return r
}
