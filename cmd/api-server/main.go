package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/api"
	"github.com/clinicdesk/booking-service/internal/appointment"
	"github.com/clinicdesk/booking-service/internal/availability"
	"github.com/clinicdesk/booking-service/internal/config"
	"github.com/clinicdesk/booking-service/internal/db"
	"github.com/clinicdesk/booking-service/internal/metrics"
	"github.com/clinicdesk/booking-service/internal/payments"
	redisclient "github.com/clinicdesk/booking-service/internal/redis"
	"github.com/clinicdesk/booking-service/internal/slots"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "booking-api").
		Logger()

	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.New(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	metrics.Register()

	availabilityRepo := availability.NewPgRepository(pgPool)
	appointmentRepo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)

	var refunder payments.Refunder
	if cfg.PaymentBaseURL != "" {
		refunder = payments.NewHTTPRefunder(cfg.PaymentBaseURL, cfg.PaymentAPIKey, &logger)
	} else {
		logger.Warn().Msg("PAYMENT_BASE_URL not set, refunds are disabled")
		refunder = payments.NewDisabledRefunder(&logger)
	}

	availabilitySvc := availability.NewService(availabilityRepo, &logger)
	bookingSvc := appointment.NewService(appointmentRepo, availabilityRepo, locker, refunder, &logger)
	materializer := slots.NewMaterializer(availabilityRepo, appointmentRepo)

	router := api.NewRouter(api.RouterConfig{
		Bookings:     bookingSvc,
		Availability: availabilitySvc,
		Slots:        materializer,
		SlotDefaults: api.SlotDefaults{
			DurationMinutes:    cfg.SlotDurationMinutes,
			BufferMinutes:      cfg.SlotBufferMinutes,
			AdvanceBookingDays: cfg.AdvanceBookingDays,
		},
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  &logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	case <-rootCtx.Done():
		logger.Info().Msg("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
