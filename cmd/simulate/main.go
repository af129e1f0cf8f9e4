// Package main drives synthetic visitors through the tracker against a
// running API, for load and smoke testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beacon/beacon/internal/config"
)

func main() {
	var (
		apiURL      = flag.String("api-url", envOr("API_URL", "http://localhost:8080"), "Base URL of the ingestion API")
		trackingID  = flag.String("tracking-id", "demo-site", "Tracking ID to report under")
		visitors    = flag.Int("visitors", 10, "Number of synthetic visitors")
		pages       = flag.Int("pages", 3, "Page loads per visitor")
		concurrency = flag.Int("concurrency", 4, "Visitors simulated at once")
		transport   = flag.String("transport", "beacon", "Delivery mode: beacon or fetch")
		debounce    = flag.Duration("scroll-debounce", 50*time.Millisecond, "Scroll debounce of each tracker")
		seed        = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
		logLevel    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger := config.NewLogger(&config.Config{LogLevel: *logLevel, LogFormat: "text"}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := Simulation{
		APIURL:         *apiURL,
		TrackingID:     *trackingID,
		Visitors:       *visitors,
		Pages:          *pages,
		Concurrency:    *concurrency,
		Beacon:         *transport != "fetch",
		ScrollDebounce: *debounce,
		Seed:           *seed,
		Logger:         logger,
	}

	start := time.Now()
	report, err := sim.Run(ctx)
	if err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("visitors=%d page_loads=%d events=%d elapsed=%s\n",
		report.Visitors, report.PageLoads, report.Events, time.Since(start).Truncate(time.Millisecond))
	for eventType, n := range report.ByType {
		fmt.Printf("  %-14s %d\n", eventType, n)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
