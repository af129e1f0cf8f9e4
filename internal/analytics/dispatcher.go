package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/model"
)

// DefaultForwardTimeout bounds a single downstream hand-off.
const DefaultForwardTimeout = 500 * time.Millisecond

// ErrDispatcherClosed is returned once Shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// BreakerConfig configures the circuit breaker around the forwarder.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Consecutive failures before opening
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Dispatcher forwards events in the background. Failures are logged and
// counted but never surface to the submitter: delivery is at most once.
type Dispatcher struct {
	forwarder Forwarder
	breaker   *gobreaker.CircuitBreaker[struct{}]
	timeout   time.Duration
	logger    *slog.Logger
	metrics   metrics.Recorder

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher wraps forwarder with a circuit breaker and timeout.
func NewDispatcher(forwarder Forwarder, timeout time.Duration, breaker BreakerConfig, logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	logger = logger.With("component", "analytics.dispatcher")

	settings := gobreaker.Settings{
		Name:        breaker.Name,
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("forwarder circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Dispatcher{
		forwarder: forwarder,
		breaker:   gobreaker.NewCircuitBreaker[struct{}](settings),
		timeout:   timeout,
		logger:    logger,
		metrics:   recorder,
	}
}

// Dispatch forwards event without blocking the caller.
func (d *Dispatcher) Dispatch(event model.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("event dropped after shutdown",
			"tracking_id", event.TrackingID,
			"event_type", event.EventType,
		)
		d.metrics.IncEventForwarded("rejected")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.Forward(ctx, event); err != nil {
			d.logger.Warn("failed to forward event",
				"tracking_id", event.TrackingID,
				"event_type", event.EventType,
				"error", err,
			)
		}
	}()
}

// Forward hands event to the forwarder through the breaker and records the
// outcome.
func (d *Dispatcher) Forward(ctx context.Context, event model.Event) error {
	_, err := d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.forwarder.Forward(ctx, event)
	})
	switch {
	case err == nil:
		d.metrics.IncEventForwarded("success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.metrics.IncEventForwarded("rejected")
	default:
		d.metrics.IncEventForwarded("failed")
	}
	return err
}

// BreakerState returns the circuit breaker state for monitoring.
func (d *Dispatcher) BreakerState() string {
	return d.breaker.State().String()
}

// Shutdown stops accepting events and waits for in-flight forwards.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out")
		return ctx.Err()
	}
}
