// Command server runs the wasync HTTP service: webhook intake, scheduled
// gateway reconciliation, and the conversation read API.
//
// @title                      wasync API
// @version                    1.0
// @description                WhatsApp message ingestion and conversation reconciliation service.
// @BasePath                   /api/v1
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

	_ "github.com/suppdesk/wasync/docs"
	"github.com/suppdesk/wasync/internal/config"
	"github.com/suppdesk/wasync/internal/gateway"
	httpapi "github.com/suppdesk/wasync/internal/http"
	"github.com/suppdesk/wasync/internal/observability"
	"github.com/suppdesk/wasync/internal/repo"
	"github.com/suppdesk/wasync/internal/scheduler"
	"github.com/suppdesk/wasync/internal/services"
	"github.com/suppdesk/wasync/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	gw := gateway.NewClient(gateway.Options{
		BaseURL:      cfg.Gateway.BaseURL,
		APIKey:       cfg.Gateway.APIKey,
		FetchTimeout: cfg.Gateway.FetchTimeout,
		Retries:      cfg.Gateway.FetchRetries,
	})

	syncSvc := services.NewSyncService(db, gw, cfg.Sync.AccountID)
	syncSvc.OutboundSender = cfg.Sync.OutboundSender
	syncSvc.PageSize = cfg.Gateway.PageSize

	intakeSvc := services.NewIntakeService(db, syncSvc)
	intakeSvc.EventTTL = cfg.Sync.EventTTL

	sched := scheduler.New(gw, syncSvc)
	sched.Journal = intakeSvc
	if err := sched.Start(cfg.Sync.Schedule); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Sync.Schedule).Msg("start scheduler")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      db,
		Gateway: gw,
		Sync:    syncSvc,
		Intake:  intakeSvc,
	}, cfg)

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
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown: stop accepting traffic, let the in-flight sync
	// cycle finish, then close the store.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	sched.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
