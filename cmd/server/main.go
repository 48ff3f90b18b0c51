// Command server runs the outbound messaging backend: the queue API, the
// provider webhook, and the background dispatch worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caseflow/go-messaging-backend/internal/breaker"
	"github.com/caseflow/go-messaging-backend/internal/config"
	httpapi "github.com/caseflow/go-messaging-backend/internal/http"
	"github.com/caseflow/go-messaging-backend/internal/observability"
	"github.com/caseflow/go-messaging-backend/internal/repo"
	"github.com/caseflow/go-messaging-backend/internal/scheduler"
	"github.com/caseflow/go-messaging-backend/internal/services"
	"github.com/caseflow/go-messaging-backend/internal/sysutil"
	"github.com/caseflow/go-messaging-backend/internal/transport"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath, repo.OpenOptions{Tracing: cfg.OTEL.Enabled})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	br := breaker.New("messaging-transport", breaker.Config{
		Threshold:    cfg.Breaker.Threshold,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		CallTimeout:  cfg.Breaker.CallTimeout,
	})

	var tr transport.Transport = transport.LogTransport{}
	if cfg.Provider.URL != "" {
		tr = transport.NewHTTPTransport(cfg.Provider.URL, cfg.Provider.Token, cfg.Provider.Timeout)
		log.Info().Str("provider_url", cfg.Provider.URL).Msg("using http provider transport")
	} else {
		log.Warn().Msg("no provider configured, deliveries are logged locally")
	}

	worker := services.NewDispatchWorker(db, tr, br)
	worker.MaxRetries = cfg.Queue.MaxRetries
	worker.BackoffBase = cfg.Queue.BackoffBase
	worker.BackoffCap = cfg.Queue.BackoffCap
	worker.StaleClaimAge = cfg.Queue.StaleClaimAge

	// Rows stuck in sending from a previous crash go back to pending before
	// the first scheduled pass.
	if n, err := repo.RequeueStaleSending(ctx, db, time.Now().UTC(), time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("startup stale-claim recovery failed")
	} else if n > 0 {
		log.Info().Int64("rows", n).Msg("requeued stale sending rows from previous run")
	}

	sched, err := scheduler.New(cfg.Queue.SchedulerInterval, func(tickCtx context.Context) {
		worker.Tick(tickCtx, cfg.Queue.BatchLimit)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}
	sched.Start()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, worker, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("server stopped")
}
