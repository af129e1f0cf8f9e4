package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/beacon/beacon/internal/config"
	"github.com/beacon/beacon/internal/handler"
	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/middleware"
	"github.com/beacon/beacon/internal/ratelimit"
)

// routerDeps carries everything setupRouter wires together.
type routerDeps struct {
	cfg     *config.Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	metrics metrics.Recorder
	// metricsHandler serves /metrics when set.
	metricsHandler http.Handler

	track  *handler.TrackHandler
	script *handler.ScriptHandler
	health *handler.HealthHandler
	admin  *handler.AdminHandler
	auth   *handler.AuthHandler
}

// preflight is the route target for OPTIONS; the CORS middleware answers
// before it is reached.
func preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg := d.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))

	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	if d.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.metricsHandler)
	}

	rl := middleware.RateLimitConfig{
		Logger:    d.logger,
		Limiter:   d.limiter,
		Metrics:   d.metrics,
		Enabled:   cfg.RateLimitEnabled,
		PerTenant: cfg.RateLimitTrackPerTenant,
	}
	trackingPolicy := ratelimit.Tracking.WithLimits(cfg.RateLimitTrackWindow, cfg.RateLimitTrackMax)
	generalPolicy := ratelimit.General.WithLimits(cfg.RateLimitAPIWindow, cfg.RateLimitAPIMax)

	// Public tracking surface: any origin.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(middleware.TrackingCORSConfig()))
		r.Get("/tracker.js", d.script.Serve)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
			r.Use(middleware.RateLimit(rl, trackingPolicy))

			r.Post("/track", d.track.Track)
			r.Get("/track/health", d.track.Health)
		})
		r.Options("/track", preflight)
		r.Options("/track/health", preflight)
	})

	// Operator API: allow-listed origins only.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.APICORSConfig(cfg.GetCORSAllowedOrigins())))
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
		r.Options("/*", preflight)

		// Each route class counts against one policy only; admin traffic
		// stays outside the General group.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(rl, generalPolicy))
			r.With(middleware.RateLimit(rl, ratelimit.Auth)).Post("/auth/verify", d.auth.Verify)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RateLimit(rl, ratelimit.Admin))
			r.Use(middleware.AdminAuth(middleware.AdminAuthConfig{
				Logger:    d.logger,
				TokenHash: cfg.AdminTokenHash,
			}))

			r.Get("/stats", d.admin.Stats)
			r.Get("/tracking/{trackingId}/daily", d.admin.DailyStats)
		})
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}
