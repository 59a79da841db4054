package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/appointment"
	"github.com/clinicdesk/booking-service/internal/config"
	"github.com/clinicdesk/booking-service/internal/db"
)

// Marks confirmed appointments as completed once their window has passed.
// The API exposes an explicit complete operation for clinic staff; this
// worker is the catch-all for appointments nobody closed out by hand.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "completion-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Msg("completion-worker starting up")

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

	repo := appointment.NewPgRepository(pgPool)

	runOnce(rootCtx, repo, &logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, &logger)
		}
	}
}

func runOnce(ctx context.Context, repo *appointment.PgRepository, logger *zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := repo.CompletePastConfirmed(runCtx, start)
	if err != nil {
		logger.Error().Err(err).Msg("sweep run error")
		return
	}
	logger.Info().
		Int64("completed", n).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
