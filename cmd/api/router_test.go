package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/analytics"
	"github.com/beacon/beacon/internal/auth"
	"github.com/beacon/beacon/internal/config"
	"github.com/beacon/beacon/internal/handler"
	"github.com/beacon/beacon/internal/identity"
	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/model"
	"github.com/beacon/beacon/internal/ratelimit"
	"github.com/beacon/beacon/internal/static"
	"github.com/beacon/beacon/internal/tracker"
)

const testAdminToken = "bk_admin_0123456789abcdef"

type capturingForwarder struct {
	mu     sync.Mutex
	events []model.Event
}

func (f *capturingForwarder) Forward(_ context.Context, event model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *capturingForwarder) Events() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := auth.HashTokenWithParams(testAdminToken, auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	if err != nil {
		t.Fatalf("hash admin token: %v", err)
	}
	return &config.Config{
		AppEnv:               "test",
		RateLimitEnabled:     true,
		RateLimitTrackWindow: time.Minute,
		RateLimitTrackMax:    1000,
		RateLimitAPIWindow:   15 * time.Minute,
		RateLimitAPIMax:      100,
		FrontendURL:          "https://dashboard.test",
		MaxRequestBodySize:   1 << 20,
		ForwarderBackend:     config.ForwarderRedis,
		AdminTokenHash:       hash,
		TrackerScriptMaxAge:  3600,
	}
}

type testStack struct {
	server     *httptest.Server
	forwarder  *capturingForwarder
	dispatcher *analytics.Dispatcher
}

func newTestStack(t *testing.T, cfg *config.Config) *testStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewPrometheus()
	fwd := &capturingForwarder{}
	dispatcher := analytics.NewDispatcher(fwd, time.Second, analytics.DefaultBreakerConfig("test"), logger, recorder)

	r := setupRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		limiter:        ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		metrics:        recorder,
		metricsHandler: recorder.Handler(),
		track:          handler.NewTrackHandler(dispatcher, logger, recorder),
		script:         handler.NewScriptHandler(static.TrackerJS, time.Duration(cfg.TrackerScriptMaxAge)*time.Second),
		health:         handler.NewHealthHandler(handler.Dependency{Name: "database"}),
		admin:          handler.NewAdminHandler(cfg.ForwarderBackend, nil, dispatcher, nil, logger),
		auth:           handler.NewAuthHandler(cfg.AdminTokenHash, logger),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testStack{server: srv, forwarder: fwd, dispatcher: dispatcher}
}

func (s *testStack) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestPipeline_TrackerToForwarder(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	transport := tracker.NewBeaconTransport(tracker.TransportConfig{
		Endpoint: tracker.Endpoint(stack.server.URL + "/"),
		Client:   stack.server.Client(),
	})
	page := tracker.StaticPage(tracker.PageInfo{
		URL:            "https://shop.test/products/42",
		Title:          "Product 42",
		Referrer:       "https://search.test/?q=42",
		UserAgent:      "Mozilla/5.0 (Simulated)",
		Language:       "en-US",
		Timezone:       "Europe/Berlin",
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ViewportWidth:  1280,
		ViewportHeight: 800,
	})
	tr := tracker.New(tracker.Config{AutoTrack: true, ScrollDebounce: 10 * time.Millisecond}, page, identity.NewMemoryStorage(), transport, nil)

	if err := tr.Init("site-1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	tr.OnClick(&tracker.Element{
		Tag:    "span",
		Text:   "Add to cart",
		Parent: &tracker.Element{Tag: "button", ID: "add", Classes: []string{"btn", "primary"}},
	})
	tr.OnScroll(tracker.ScrollPosition{ScrollTop: 1200, ViewportHeight: 800, DocumentHeight: 2000})

	deadline := time.Now().Add(5 * time.Second)
	for !hasEventType(stack.forwarder.Events(), model.EventScrollDepth) {
		if time.Now().After(deadline) {
			t.Fatalf("scroll_depth never forwarded, got %d events", len(stack.forwarder.Events()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	tr.OnUnload()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := transport.Close(ctx); err != nil {
		t.Fatalf("close transport: %v", err)
	}
	if err := stack.dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown dispatcher: %v", err)
	}

	events := stack.forwarder.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 forwarded events, got %d: %+v", len(events), events)
	}

	byType := make(map[string]model.Event)
	for _, ev := range events {
		byType[ev.EventType] = ev
		if ev.TrackingID != "site-1" {
			t.Errorf("%s: trackingId = %q", ev.EventType, ev.TrackingID)
		}
		if ev.VisitorID != tr.VisitorID() || ev.SessionID != tr.SessionID() {
			t.Errorf("%s: identity = %s/%s, want %s/%s", ev.EventType, ev.VisitorID, ev.SessionID, tr.VisitorID(), tr.SessionID())
		}
		if ev.IPAddress != "127.0.0.1" {
			t.Errorf("%s: ip = %q", ev.EventType, ev.IPAddress)
		}
		if ev.ReceivedAt.IsZero() {
			t.Errorf("%s: receivedAt not stamped", ev.EventType)
		}
	}
	for _, want := range []string{model.EventPageView, model.EventClick, model.EventScrollDepth, model.EventPageUnload} {
		if _, ok := byType[want]; !ok {
			t.Errorf("missing %s event", want)
		}
	}

	if lang, _ := byType[model.EventPageView].CustomData["language"].AsString(); lang != "en-US" {
		t.Errorf("page_view metadata lost: %v", byType[model.EventPageView].CustomData)
	}
	if id, _ := byType[model.EventClick].CustomData["elementId"].AsString(); id != "add" {
		t.Errorf("click recorded wrong element: %v", byType[model.EventClick].CustomData)
	}
	if depth, _ := byType[model.EventScrollDepth].CustomData["depth"].AsInt(); depth != 100 {
		t.Errorf("scroll depth = %d, want 100", depth)
	}
	if maxDepth, _ := byType[model.EventPageUnload].CustomData["maxScrollDepth"].AsInt(); maxDepth != 100 {
		t.Errorf("unload maxScrollDepth = %d, want 100", maxDepth)
	}
}

func TestPipeline_PartialScrollAndSubmit(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	transport := tracker.NewFetchTransport(tracker.TransportConfig{
		Endpoint: tracker.Endpoint(stack.server.URL + "/"),
		Client:   stack.server.Client(),
	})
	page := tracker.StaticPage(tracker.PageInfo{
		URL:            "https://shop.test/newsletter",
		Title:          "Newsletter",
		ViewportWidth:  1280,
		ViewportHeight: 800,
	})
	tr := tracker.New(tracker.Config{ScrollDebounce: 10 * time.Millisecond}, page, identity.NewMemoryStorage(), transport, nil)

	if err := tr.Init("site-1"); err != nil {
		t.Fatalf("init: %v", err)
	}

	// (400 + 800) / 2000 = 60%, which crosses only the 25 and 50 thresholds.
	tr.OnScroll(tracker.ScrollPosition{ScrollTop: 400, ViewportHeight: 800, DocumentHeight: 2000})
	deadline := time.Now().Add(5 * time.Second)
	for countEventType(stack.forwarder.Events(), model.EventScrollDepth) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("scroll_depth never forwarded, got %d events", len(stack.forwarder.Events()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	tr.OnSubmit(tracker.Form{ID: "signup", Classes: []string{"newsletter"}, Action: "/subscribe"})
	tr.OnUnload()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := transport.Close(ctx); err != nil {
		t.Fatalf("close transport: %v", err)
	}
	if err := stack.dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown dispatcher: %v", err)
	}

	events := stack.forwarder.Events()
	if n := countEventType(events, model.EventScrollDepth); n != 1 {
		t.Fatalf("expected 1 scroll_depth event, got %d", n)
	}

	byType := make(map[string]model.Event)
	for _, ev := range events {
		byType[ev.EventType] = ev
	}
	if depth, _ := byType[model.EventScrollDepth].CustomData["depth"].AsInt(); depth != 50 {
		t.Errorf("scroll depth = %d, want 50", depth)
	}
	submit, ok := byType[model.EventFormSubmit]
	if !ok {
		t.Fatalf("form_submit not forwarded: %+v", events)
	}
	if id, _ := submit.CustomData["formId"].AsString(); id != "signup" {
		t.Errorf("formId = %q, want signup", id)
	}
	unload, ok := byType[model.EventPageUnload]
	if !ok {
		t.Fatalf("page_unload not forwarded: %+v", events)
	}
	if maxDepth, _ := unload.CustomData["maxScrollDepth"].AsInt(); maxDepth != 50 {
		t.Errorf("unload maxScrollDepth = %d, want 50", maxDepth)
	}
	if unload.SessionID != tr.SessionID() || submit.VisitorID != tr.VisitorID() {
		t.Error("events lost the tracker identity")
	}
}

func countEventType(events []model.Event, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func hasEventType(events []model.Event, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

func TestRouter_TrackValidation(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	resp := stack.do(t, http.MethodPost, "/track", `{"trackingId":"site-1","pageUrl":"https://a.test/"}`,
		map[string]string{"Content-Type": "application/json"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["success"] != false || body["error"] != "Missing required fields: sessionId, visitorId" {
		t.Errorf("unexpected body: %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestRouter_TrackRateLimited(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RateLimitTrackMax = 2
	stack := newTestStack(t, cfg)

	const event = `{"trackingId":"site-1","pageUrl":"https://a.test/","sessionId":"s_1","visitorId":"v_1"}`
	for i := 0; i < 2; i++ {
		if resp := stack.do(t, http.MethodPost, "/track", event, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp := stack.do(t, http.MethodPost, "/track", event, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if body := decode(t, resp); body["success"] != false {
		t.Errorf("unexpected body: %v", body)
	}

	// Other surfaces have their own budget.
	if resp := stack.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz limited with tracking: %d", resp.StatusCode)
	}
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	tests := []struct {
		name       string
		path       string
		origin     string
		wantOrigin string
	}{
		{"tracking from any site", "/track", "https://shop.test", "*"},
		{"admin from dashboard", "/api/v1/admin/stats", "https://dashboard.test", "https://dashboard.test"},
		{"admin from unknown site", "/api/v1/admin/stats", "https://evil.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := stack.do(t, http.MethodOptions, tt.path, "", map[string]string{
				"Origin":                         tt.origin,
				"Access-Control-Request-Method":  http.MethodPost,
				"Access-Control-Request-Headers": "Content-Type",
			})
			if resp.StatusCode >= http.StatusMultipleChoices {
				t.Fatalf("preflight status = %d", resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestRouter_Admin(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	resp := stack.do(t, http.MethodGet, "/api/v1/admin/stats", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate")
	}

	resp = stack.do(t, http.MethodGet, "/api/v1/admin/stats", "", map[string]string{"Authorization": "Bearer " + testAdminToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["breakerState"] != "closed" || body["forwarder"] != "redis" {
		t.Errorf("unexpected stats: %v", body)
	}

	resp = stack.do(t, http.MethodGet, "/api/v1/admin/tracking/site-1/daily", "", map[string]string{"Authorization": "Bearer " + testAdminToken})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("daily stats without storage: status %d, want 503", resp.StatusCode)
	}
}

func TestRouter_AdminUsesOwnPolicy(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))
	authHeader := map[string]string{"Authorization": "Bearer " + testAdminToken}

	// The General budget (100) must not cap admin traffic.
	for i := 1; i <= 150; i++ {
		resp := stack.do(t, http.MethodGet, "/api/v1/admin/stats", "", authHeader)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("admin request %d: expected status 200, got %d", i, resp.StatusCode)
		}
		if got := resp.Header.Get("X-RateLimit-Limit"); got != "200" {
			t.Fatalf("admin request %d: X-RateLimit-Limit = %q, want 200", i, got)
		}
	}
}

func TestRouter_Static(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, testConfig(t))

	tests := []struct {
		name        string
		method      string
		path        string
		wantStatus  int
		wantContent string
	}{
		{"tracker script", http.MethodGet, "/tracker.js", http.StatusOK, "beacon_visitor_id"},
		{"liveness", http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{"readiness without optional deps", http.MethodGet, "/readyz", http.StatusOK, "not configured"},
		{"tracking health", http.MethodGet, "/track/health", http.StatusOK, `"service":"tracking"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "beacon_events_received_total"},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound, "Resource not found"},
		{"wrong method", http.MethodGet, "/track", http.StatusMethodNotAllowed, "Method not allowed"},
	}

	// Generate a counter sample so the metric family is exposed.
	stack.do(t, http.MethodPost, "/track", `{}`, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := stack.do(t, tt.method, tt.path, "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !strings.Contains(string(raw), tt.wantContent) {
				t.Errorf("body missing %q: %.200s", tt.wantContent, raw)
			}
		})
	}
}
