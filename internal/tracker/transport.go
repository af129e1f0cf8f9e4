package tracker

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/model"
)

const (
	// ClientTimeout bounds a single delivery attempt.
	ClientTimeout = 10 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
	// DefaultOutboxSize is the number of events a beacon transport buffers.
	DefaultOutboxSize = 256

	trackPath = "/track"
	userAgent = "Beacon-Tracker/1.0"
)

// Transport delivers events to the ingestion endpoint. Send must not block
// and must not report failure to the caller; delivery is best effort.
type Transport interface {
	Send(ev model.Event)
	Close(ctx context.Context) error
}

// TransportConfig configures the HTTP transports.
type TransportConfig struct {
	// Endpoint is the full /track URL. See Endpoint.
	Endpoint   string
	Client     *http.Client
	Logger     *slog.Logger
	Debug      bool
	OutboxSize int
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	return c
}

// Endpoint returns the /track URL under apiURL.
func Endpoint(apiURL string) string {
	return strings.TrimRight(apiURL, "/") + trackPath
}

// NewHTTPClient creates a keep-alive client for event delivery. Redirects
// are not followed.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SelectTransport prefers the queued beacon transport and falls back to one
// request per event when beacons are unavailable.
func SelectTransport(cfg TransportConfig, beaconAvailable bool) Transport {
	if beaconAvailable {
		return NewBeaconTransport(cfg)
	}
	return NewFetchTransport(cfg)
}

// poster performs one delivery attempt.
type poster struct {
	cfg TransportConfig
}

func (p poster) post(ctx context.Context, ev model.Event) {
	body, err := json.Marshal(ev.Request())
	if err != nil {
		p.debug("encode event", "event_type", ev.EventType, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		p.debug("build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		p.debug("deliver event", "event_type", ev.EventType, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		p.debug("event rejected", "event_type", ev.EventType, "status", resp.StatusCode)
	}
}

func (p poster) debug(msg string, args ...any) {
	if p.cfg.Debug {
		p.cfg.Logger.Debug(msg, args...)
	}
}

// BeaconTransport queues events and delivers them from a single background
// goroutine, in submission order. When the queue is full the event is
// dropped.
type BeaconTransport struct {
	poster
	outbox chan model.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewBeaconTransport starts the delivery goroutine.
func NewBeaconTransport(cfg TransportConfig) *BeaconTransport {
	cfg = cfg.withDefaults()
	t := &BeaconTransport{
		poster: poster{cfg: cfg},
		outbox: make(chan model.Event, cfg.OutboxSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *BeaconTransport) run() {
	defer close(t.done)
	for ev := range t.outbox {
		t.post(context.Background(), ev)
	}
}

// Send implements Transport.
func (t *BeaconTransport) Send(ev model.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return
	}
	select {
	case t.outbox <- ev:
	default:
		t.debug("outbox full, event dropped", "event_type", ev.EventType)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (t *BeaconTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.outbox)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchTransport delivers each event on its own goroutine.
type FetchTransport struct {
	poster
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewFetchTransport creates a FetchTransport.
func NewFetchTransport(cfg TransportConfig) *FetchTransport {
	return &FetchTransport{poster: poster{cfg: cfg.withDefaults()}}
}

// Send implements Transport.
func (t *FetchTransport) Send(ev model.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.post(context.Background(), ev)
	}()
}

// Close waits for in-flight deliveries.
func (t *FetchTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
