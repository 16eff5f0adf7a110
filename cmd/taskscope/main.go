package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/taskscope/taskscope/pkg/api"
	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/config"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/projects"
	"github.com/taskscope/taskscope/pkg/storage"
	"github.com/taskscope/taskscope/pkg/tasks"
	"github.com/taskscope/taskscope/pkg/users"
)

func main() {
	// Optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, nil)

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("database connection failed")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	engine := authz.NewEngine(db, cfg.Authz.MembershipCacheTTL, metrics)
	passwords := auth.NewPasswordManager()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessDuration, cfg.Auth.RefreshDuration)
	revocations := auth.NewRevocationStore(db)

	server := api.NewServer(cfg.Server, api.Deps{
		Projects:    projects.NewService(db, engine, logger, metrics),
		Tasks:       tasks.NewService(db, engine, logger),
		Users:       users.NewService(db, passwords, logger),
		Tokens:      tokens,
		Revocations: revocations,
	}, logger, metrics)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Auth.RevocationPurgeSchedule, func() {
		n, err := revocations.PurgeExpired(context.Background())
		if err != nil {
			logger.WithError(err).Warn("revocation purge failed")
			return
		}
		if n > 0 {
			logger.WithField("purged", n).Info("expired revocations purged")
		}
	}); err != nil {
		logger.WithError(err).Error("invalid revocation purge schedule")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown failed")
			os.Exit(1)
		}
	}
}
