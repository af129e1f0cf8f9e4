package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beacon/beacon/internal/identity"
	"github.com/beacon/beacon/internal/model"
	"github.com/beacon/beacon/internal/tracker"
)

// Simulation configures a run of synthetic visitors.
type Simulation struct {
	APIURL         string
	TrackingID     string
	Visitors       int
	Pages          int
	Concurrency    int
	Beacon         bool
	ScrollDebounce time.Duration
	Seed           uint64
	Logger         *slog.Logger
	// Client overrides the HTTP client of the transports.
	Client *http.Client
}

// Report summarizes what a run emitted.
type Report struct {
	Visitors  int
	PageLoads int
	Events    int
	ByType    map[string]int
	// Sessions maps each visitor ID to the session IDs it used, in page
	// order.
	Sessions map[string][]string
}

func (r *Report) add(visitorID, sessionID string, counts map[string]int) {
	r.PageLoads++
	r.Sessions[visitorID] = append(r.Sessions[visitorID], sessionID)
	for t, n := range counts {
		r.ByType[t] += n
		r.Events += n
	}
}

// siteURL is the origin of the simulated customer site.
const siteURL = "https://shop.example"

var sitePages = []tracker.PageInfo{
	{URL: "/", Title: "Home"},
	{URL: "/products", Title: "Products"},
	{URL: "/products/espresso-grinder", Title: "Espresso Grinder"},
	{URL: "/cart", Title: "Cart"},
	{URL: "/checkout", Title: "Checkout"},
	{URL: "/blog/brewing-guide", Title: "Brewing Guide"},
}

var referrers = []string{"", "", "https://search.example/?q=coffee", "https://social.example/post/1", "https://news.example/"}

var devices = []struct {
	userAgent        string
	screenW, screenH int
	viewW, viewH     int
}{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0", 1920, 1080, 1440, 900},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) Safari/605.1.15", 2560, 1440, 1512, 860},
	{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) Mobile/15E148", 390, 844, 390, 664},
}

// Run simulates every visitor and waits for their events to be delivered.
func (s Simulation) Run(ctx context.Context) (*Report, error) {
	if s.TrackingID == "" {
		return nil, tracker.ErrMissingTrackingID
	}
	if s.Visitors <= 0 || s.Pages <= 0 {
		return nil, errors.New("visitors and pages must be positive")
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}

	report := &Report{ByType: make(map[string]int), Sessions: make(map[string][]string)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i := 0; i < s.Visitors; i++ {
		rng := rand.New(rand.NewPCG(s.Seed, uint64(i)))
		g.Go(func() error {
			return s.visit(ctx, rng, func(visitorID, sessionID string, counts map[string]int) {
				mu.Lock()
				defer mu.Unlock()
				report.add(visitorID, sessionID, counts)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Visitors = len(report.Sessions)
	return report, nil
}

// visit plays one visitor's page loads. Identity storage outlives the page
// loads, so the visitor ID persists while each load gets a new session.
func (s Simulation) visit(ctx context.Context, rng *rand.Rand, done func(visitorID, sessionID string, counts map[string]int)) error {
	store := identity.NewMemoryStorage()
	device := devices[rng.IntN(len(devices))]
	referrer := referrers[rng.IntN(len(referrers))]

	for p := 0; p < s.Pages; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		info := sitePages[rng.IntN(len(sitePages))]
		info.URL = siteURL + info.URL
		info.Referrer = referrer
		info.UserAgent = device.userAgent
		info.Language = "en-US"
		info.Timezone = "UTC"
		info.ScreenWidth, info.ScreenHeight = device.screenW, device.screenH
		info.ViewportWidth, info.ViewportHeight = device.viewW, device.viewH
		referrer = info.URL

		counting := &countingTransport{next: tracker.SelectTransport(tracker.TransportConfig{
			Endpoint: tracker.Endpoint(s.APIURL),
			Client:   s.Client,
			Logger:   s.Logger,
			Debug:    true,
		}, s.Beacon)}

		t := tracker.New(tracker.Config{
			APIURL:         s.APIURL,
			AutoTrack:      true,
			ScrollDebounce: s.ScrollDebounce,
		}, tracker.StaticPage(info), store, counting, s.Logger)
		if err := t.Init(s.TrackingID); err != nil {
			return err
		}

		s.interact(t, rng, float64(device.viewH))

		closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := counting.Close(closeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("flush events: %w", err)
		}
		done(t.VisitorID(), t.SessionID(), counting.Counts())
	}
	return nil
}

// interact performs a random mix of clicks, scrolling, a possible form
// submit and a tab switch, then unloads the page.
func (s Simulation) interact(t *tracker.Tracker, rng *rand.Rand, viewport float64) {
	for i := rng.IntN(3); i > 0; i-- {
		t.OnClick(&tracker.Element{
			Tag:     "span",
			Text:    "Add to cart",
			Parent:  &tracker.Element{Tag: "button", ID: fmt.Sprintf("cta-%d", i), Classes: []string{"btn"}},
			Classes: []string{"label"},
		})
	}

	docHeight := viewport * float64(2+rng.IntN(4))
	for top := 0.0; top+viewport < docHeight && rng.Float64() < 0.8; top += viewport / 2 {
		t.OnScroll(tracker.ScrollPosition{ScrollTop: top + viewport/2, ViewportHeight: viewport, DocumentHeight: docHeight})
		// Let the debounce settle so the depth is evaluated.
		time.Sleep(s.ScrollDebounce + s.ScrollDebounce/2)
	}

	if rng.IntN(4) == 0 {
		t.OnSubmit(tracker.Form{ID: "newsletter", Classes: []string{"signup"}, Action: "/subscribe"})
	}
	if rng.IntN(3) == 0 {
		t.OnVisibilityChange(true)
		t.OnVisibilityChange(false)
	}
	t.OnUnload()
}

// countingTransport counts events per type on their way to next.
type countingTransport struct {
	next tracker.Transport

	mu     sync.Mutex
	counts map[string]int
}

func (c *countingTransport) Send(ev model.Event) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[ev.EventType]++
	c.mu.Unlock()
	c.next.Send(ev)
}

func (c *countingTransport) Close(ctx context.Context) error {
	return c.next.Close(ctx)
}

func (c *countingTransport) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
