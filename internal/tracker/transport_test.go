package tracker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/model"
)

type collector struct {
	mu       sync.Mutex
	requests []model.TrackRequest
	headers  []http.Header
	status   int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req model.TrackRequest
	_ = json.Unmarshal(body, &req)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.headers = append(c.headers, r.Header.Clone())
	status := c.status
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (c *collector) Requests() []model.TrackRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.TrackRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func sampleEvent(eventType string) model.Event {
	return model.Event{
		TrackingID: "T1",
		VisitorID:  "v_1",
		SessionID:  "s_1",
		EventType:  eventType,
		PageURL:    "https://example.com/",
		Timestamp:  "2026-03-01T12:00:00.000Z",
		CustomData: model.Data{"depth": model.Int(50)},
	}
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"https://api.example.com", "https://api.example.com/track"},
		{"https://api.example.com/", "https://api.example.com/track"},
		{"http://localhost:3001/api//", "http://localhost:3001/api/track"},
	}
	for _, tt := range tests {
		if got := Endpoint(tt.in); got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBeaconTransport_DeliversInOrder(t *testing.T) {
	t.Parallel()

	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := NewBeaconTransport(TransportConfig{Endpoint: srv.URL + "/track"})
	types := []string{model.EventPageView, model.EventClick, model.EventScrollDepth, model.EventPageUnload}
	for _, et := range types {
		tr.Send(sampleEvent(et))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := c.Requests()
	if len(got) != len(types) {
		t.Fatalf("delivered %d, want %d", len(got), len(types))
	}
	for i, et := range types {
		if got[i].EventType != et {
			t.Errorf("request %d eventType = %q, want %q", i, got[i].EventType, et)
		}
	}
	if d, _ := got[2].CustomData["depth"].AsInt(); d != 50 {
		t.Errorf("customData not delivered: %v", got[2].CustomData)
	}
	c.mu.Lock()
	ct := c.headers[0].Get("Content-Type")
	c.mu.Unlock()
	if ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestBeaconTransport_SendAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := NewBeaconTransport(TransportConfig{Endpoint: srv.URL + "/track"})
	_ = tr.Close(context.Background())
	tr.Send(sampleEvent(model.EventClick))

	if n := len(c.Requests()); n != 0 {
		t.Errorf("delivered %d after close, want 0", n)
	}
}

func TestBeaconTransport_FullOutboxDrops(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	tr := NewBeaconTransport(TransportConfig{Endpoint: srv.URL + "/track", OutboxSize: 1})
	for i := 0; i < 10; i++ {
		tr.Send(sampleEvent(model.EventClick))
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	// One in flight plus one buffered at most.
	if hits < 1 || hits > 2 {
		t.Errorf("delivered %d, want 1 or 2", hits)
	}
}

func TestFetchTransport_ErrorsAreSilent(t *testing.T) {
	t.Parallel()

	c := &collector{status: http.StatusTooManyRequests}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := NewFetchTransport(TransportConfig{Endpoint: srv.URL + "/track"})
	tr.Send(sampleEvent(model.EventPageView))
	tr.Send(sampleEvent(model.EventClick))

	if err := tr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Requests()); n != 2 {
		t.Errorf("delivered %d, want 2 (no retries)", n)
	}
}

func TestFetchTransport_UnreachableEndpoint(t *testing.T) {
	t.Parallel()

	tr := NewFetchTransport(TransportConfig{Endpoint: "http://127.0.0.1:1/track"})
	tr.Send(sampleEvent(model.EventPageView))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestSelectTransport(t *testing.T) {
	t.Parallel()

	cfg := TransportConfig{Endpoint: "http://127.0.0.1:1/track"}

	beacon := SelectTransport(cfg, true)
	if _, ok := beacon.(*BeaconTransport); !ok {
		t.Errorf("SelectTransport(true) = %T, want *BeaconTransport", beacon)
	}
	_ = beacon.Close(context.Background())

	fetch := SelectTransport(cfg, false)
	if _, ok := fetch.(*FetchTransport); !ok {
		t.Errorf("SelectTransport(false) = %T, want *FetchTransport", fetch)
	}
}
