// Package main is the entrypoint for the Beacon stream worker. It moves
// accepted events from the Redis stream into Postgres and maintains the
// daily rollups.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/beacon/beacon/internal/analytics"
	"github.com/beacon/beacon/internal/config"
	"github.com/beacon/beacon/internal/handler"
	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/redisconn"
	"github.com/beacon/beacon/internal/repository"
	"github.com/beacon/beacon/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	redisClient, err := redisconn.Open(ctx, cfg.RedisURL, redisconn.WorkerPool)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", config.SanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", config.RedactURL(cfg.RedisURL)),
		)
		return err
	}
	defer redisClient.Close()

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.DefaultPoolConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", config.SanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", config.RedactURL(cfg.DatabaseURL)),
		)
		return err
	}
	defer repo.Close()
	logger.Info("connected to Redis and database")

	recorder := metrics.NewPrometheus()
	worker := analytics.NewWorker(
		redisClient,
		repository.NewEventRepository(repo),
		logger,
		analytics.NewConsumerID(),
		recorder,
	)
	worker.SetBatchSize(cfg.WorkerBatchSize)

	health := handler.NewHealthHandler(
		handler.Dependency{Name: "redis", Checker: redisconn.Checker{Client: redisClient}},
		handler.Dependency{Name: "database", Checker: repo},
	)
	r := chi.NewRouter()
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("worker", worker.Shutdown)

	// A worker that cannot start takes the probe server down with it.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	workerErr := make(chan error, 1)
	go func() {
		err := worker.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel(fmt.Errorf("worker stopped: %w", err))
		}
		workerErr <- err
	}()

	logger.Info("starting worker",
		"port", cfg.AppPort,
		"batch_size", cfg.WorkerBatchSize,
		"env", cfg.AppEnv,
	)

	runErr := srv.Run(ctx)
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		return err
	}
	if runErr != nil {
		logger.Error("server error", "error", runErr)
		return runErr
	}
	<-workerErr
	return nil
}
