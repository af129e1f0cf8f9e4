// Package main is the entrypoint for the Beacon ingestion API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beacon/beacon/internal/analytics"
	"github.com/beacon/beacon/internal/config"
	"github.com/beacon/beacon/internal/handler"
	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/ratelimit"
	"github.com/beacon/beacon/internal/redisconn"
	"github.com/beacon/beacon/internal/repository"
	"github.com/beacon/beacon/internal/server"
	"github.com/beacon/beacon/internal/static"
	"github.com/beacon/beacon/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	redisClient, err := redisconn.Open(ctx, cfg.RedisURL, redisconn.APIPool)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", config.SanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", config.RedactURL(cfg.RedisURL)),
		)
		return err
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	recorder := metrics.NewPrometheus()
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient))

	var (
		forwarder      analytics.Forwarder
		queue          handler.QueueStats
		closeForwarder = func(context.Context) error { return nil }
	)
	switch cfg.ForwarderBackend {
	case config.ForwarderKafka:
		publisher := analytics.NewKafkaPublisher(analytics.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		forwarder = publisher
		closeForwarder = func(context.Context) error { return publisher.Close() }
		logger.Info("forwarding to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	case config.ForwarderWebhook:
		if !cfg.IsDevelopment() {
			if err := webhook.ValidateTargetURL(ctx, cfg.WebhookURL, nil); err != nil {
				logger.Error("rejected webhook target",
					"host", webhook.ExtractHost(cfg.WebhookURL),
					"error", err,
				)
				return err
			}
		}
		if cfg.WebhookSecret == "" {
			logger.Warn("WEBHOOK_SECRET not set, deliveries are unsigned")
		}
		forwarder = webhook.NewForwarder(cfg.WebhookURL, cfg.WebhookSecret, nil)
		logger.Info("forwarding to webhook", "host", webhook.ExtractHost(cfg.WebhookURL))
	default:
		publisher := analytics.NewStreamPublisher(redisClient)
		forwarder = publisher
		queue = publisher
		logger.Info("forwarding to redis stream", "stream", analytics.StreamKey)
	}

	dispatcher := analytics.NewDispatcher(
		forwarder,
		cfg.ForwardTimeout,
		analytics.DefaultBreakerConfig("forwarder-"+cfg.ForwarderBackend),
		logger,
		recorder,
	)

	deps := []handler.Dependency{{Name: "redis", Checker: redisconn.Checker{Client: redisClient}}}

	// Postgres is optional for the API: it only backs the daily stats view.
	var daily handler.DailyStatsReader
	if cfg.DatabaseURL != "" {
		repo, err := repository.New(ctx, cfg.DatabaseURL, repository.DefaultPoolConfig)
		if err != nil {
			logger.Error("failed to connect to database",
				slog.String("error", config.SanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", config.RedactURL(cfg.DatabaseURL)),
			)
			return err
		}
		defer repo.Close()
		logger.Info("connected to database")

		daily = repository.NewEventRepository(repo)
		deps = append(deps, handler.Dependency{Name: "database", Checker: repo})
	}

	if !cfg.AdminEnabled() {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin API disabled")
	}

	r := setupRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		limiter:        limiter,
		metrics:        recorder,
		metricsHandler: recorder.Handler(),
		track:          handler.NewTrackHandler(dispatcher, logger, recorder),
		script:         handler.NewScriptHandler(static.TrackerJS, time.Duration(cfg.TrackerScriptMaxAge)*time.Second),
		health:         handler.NewHealthHandler(deps...),
		admin:          handler.NewAdminHandler(cfg.ForwarderBackend, queue, dispatcher, daily, logger),
		auth:           handler.NewAuthHandler(cfg.AdminTokenHash, logger),
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Shutdown runs in reverse: the dispatcher drains into the forwarder
	// before the forwarder closes.
	srv.OnShutdown("forwarder", closeForwarder)
	srv.OnShutdown("dispatcher", dispatcher.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"api_url", cfg.APIURL,
		"env", cfg.AppEnv,
		"forwarder", cfg.ForwarderBackend,
	)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}
