package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/auth"
	"github.com/hackgods/session-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service AppointmentService
	Tokens  *auth.Tokens
	Metrics *metrics.Collector
	Logger  *zap.Logger
	PgPool  *pgxpool.Pool // nil with the memory backend
	Redis   *redis.Client // nil when no distributed lock is configured
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	h := &handlers{svc: cfg.Service, log: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/close", h.closeAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Patch("/appointments/{id}/notes", h.updateNotes)

		r.Get("/professionals/{id}/busy", h.professionalBusy)
	})

	return r
}
