package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Bookings     BookingService
	Availability AvailabilityService
	Slots        SlotService
	SlotDefaults SlotDefaults
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       *zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(ActorMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/availability", func(r chi.Router) {
		r.Post("/", createAvailabilityHandler(cfg.Availability))
		r.Patch("/{id}", updateAvailabilityHandler(cfg.Availability))
		r.Delete("/{id}", deleteAvailabilityHandler(cfg.Availability))
	})

	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/availability", listAvailabilityHandler(cfg.Availability))
		r.Get("/slots", listSlotsHandler(cfg.Slots, cfg.SlotDefaults))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Bookings))
		r.Get("/", listAppointmentsHandler(cfg.Bookings))
		r.Get("/{id}", getAppointmentHandler(cfg.Bookings))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Bookings))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Bookings))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Bookings))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Bookings))
	})

	return r
}
