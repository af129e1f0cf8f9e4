// Package tracker is the client side of the ingestion pipeline: it
// establishes visitor and session identity, turns page interactions into
// events and hands them to a fire-and-forget transport.
//
// A Tracker is an explicit handle; nothing is process-global, so several
// independent trackers can coexist (one per page in tests or simulations).
// The host environment reports interactions through the On* observer
// methods, which stand in for the browser event listeners of the embeddable
// script.
package tracker

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/beacon/beacon/internal/identity"
	"github.com/beacon/beacon/internal/model"
)

// DefaultScrollDebounce is the scroll inactivity period before depth is
// evaluated.
const DefaultScrollDebounce = 250 * time.Millisecond

// ErrMissingTrackingID is returned by Init when no tracking ID is given.
var ErrMissingTrackingID = errors.New("tracking id is required")

// Config is the configuration read when the tracker loads.
type Config struct {
	APIURL     string
	TrackingID string
	Debug      bool
	AutoTrack  bool
	// LoyaltyEnabled is carried for the host integration; the tracker
	// itself does not act on it.
	LoyaltyEnabled bool

	ScrollDebounce time.Duration
	Clock          Clock
}

type queuedCall struct {
	pageView  bool
	eventType string
	data      model.Data
	// at is the capture time; replay keeps it as the event timestamp.
	at time.Time
}

// Tracker captures and delivers events for a single page lifetime.
type Tracker struct {
	cfg       Config
	page      Page
	store     identity.Storage
	transport Transport
	logger    *slog.Logger
	clock     Clock

	mu          sync.Mutex
	initialized bool
	trackingID  string
	visitorID   string
	sessionID   string
	queue       []queuedCall
	pageStart   time.Time

	maxScrollDepth int
	scrollPos      ScrollPosition
	scrollTimer    Timer
	scrollSeq      uint64
}

// New creates an uninitialized tracker. Calls made before Init are queued.
func New(cfg Config, page Page, store identity.Storage, transport Transport, logger *slog.Logger) *Tracker {
	if cfg.ScrollDebounce <= 0 {
		cfg.ScrollDebounce = DefaultScrollDebounce
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		cfg:       cfg,
		page:      page,
		store:     store,
		transport: transport,
		logger:    logger.With("component", "tracker"),
		clock:     clock,
	}
}

// Load creates a tracker and initializes it when the configuration already
// names a tracking ID, mirroring the script reading its global config.
func Load(cfg Config, page Page, store identity.Storage, transport Transport, logger *slog.Logger) *Tracker {
	t := New(cfg, page, store, transport, logger)
	if cfg.TrackingID != "" {
		_ = t.Init(cfg.TrackingID)
	}
	return t
}

// Init resolves identity, starts the page timer, emits the automatic page
// view and replays calls queued before initialization. A second call is a
// no-op.
func (t *Tracker) Init(trackingID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		t.debug("already initialized", "tracking_id", t.trackingID)
		return nil
	}

	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		t.logger.Error("tracker initialization skipped", "error", ErrMissingTrackingID)
		return ErrMissingTrackingID
	}

	visitorID, created, err := identity.ResolveVisitor(t.store)
	if err != nil {
		t.debug("visitor storage unavailable", "error", err)
	}
	if visitorID == "" {
		visitorID = identity.NewVisitorID()
	}

	t.trackingID = trackingID
	t.visitorID = visitorID
	t.sessionID = identity.NewSessionID()
	t.pageStart = t.clock.Now()
	t.initialized = true

	t.debug("initialized",
		"tracking_id", trackingID,
		"visitor_id", visitorID,
		"session_id", t.sessionID,
		"new_visitor", created,
	)

	if t.cfg.AutoTrack {
		t.pageViewLocked(nil)
	}

	queued := t.queue
	t.queue = nil
	for _, call := range queued {
		if call.pageView {
			t.emitAtLocked(model.EventPageView, t.page.Info().metadata().Merge(call.data), call.at)
			continue
		}
		t.emitAtLocked(call.eventType, call.data, call.at)
	}
	return nil
}

// Initialized reports whether Init has completed.
func (t *Tracker) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// VisitorID returns the resolved visitor ID, or "" before Init.
func (t *Tracker) VisitorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visitorID
}

// SessionID returns this page lifetime's session ID, or "" before Init.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// TrackPageView emits a page_view enriched with page and environment
// metadata. Fields in data override the collected metadata.
func (t *Tracker) TrackPageView(data model.Data) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.queue = append(t.queue, queuedCall{pageView: true, data: data.Clone(), at: t.clock.Now()})
		return
	}
	t.pageViewLocked(data)
}

// TrackEvent emits an event of any type.
func (t *Tracker) TrackEvent(eventType string, data model.Data) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.queue = append(t.queue, queuedCall{eventType: eventType, data: data.Clone(), at: t.clock.Now()})
		return
	}
	t.emitLocked(eventType, data)
}

// Command is the compatibility shim for the gtag calling convention:
// "config" initializes and "event" tracks. Anything else is ignored.
func (t *Tracker) Command(name string, args ...any) {
	switch name {
	case "config":
		id, _ := argString(args, 0)
		_ = t.Init(id)
	case "event":
		eventType, ok := argString(args, 0)
		if !ok {
			t.debug("event command without a name")
			return
		}
		var data model.Data
		if len(args) > 1 {
			converted, err := commandData(args[1])
			if err != nil {
				t.debug("event command data dropped", "error", err)
			}
			data = converted
		}
		t.TrackEvent(eventType, data)
	default:
		t.debug("unsupported command", "command", name)
	}
}

func argString(args []any, i int) (string, bool) {
	if len(args) <= i {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func commandData(arg any) (model.Data, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case model.Data:
		return v.Clone(), nil
	case map[string]any:
		return model.DataOf(v)
	}
	value, err := model.ValueOf(arg)
	if err != nil {
		return nil, err
	}
	fields, ok := value.Fields()
	if !ok {
		return nil, errors.New("event parameters must be an object")
	}
	return model.Data(fields), nil
}

// OnVisibilityChange reports the page being hidden or shown. Hiding emits
// page_hidden with the time on page; showing emits page_visible and restarts
// the page timer.
func (t *Tracker) OnVisibilityChange(hidden bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return
	}
	now := t.clock.Now()
	if hidden {
		t.emitLocked(model.EventPageHidden, model.Data{
			"timeOnPage": model.Int(now.Sub(t.pageStart).Milliseconds()),
		})
		return
	}
	t.pageStart = now
	t.emitLocked(model.EventPageVisible, nil)
}

// OnClick reports a click on target. The nearest anchor, button or
// data-track element at or above target is recorded; other clicks are
// ignored.
func (t *Tracker) OnClick(target *Element) {
	if target == nil {
		return
	}
	el := target.closestTrackable()
	if el == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return
	}
	data := model.Data{
		"elementTag":     model.String(strings.ToLower(el.Tag)),
		"elementText":    model.String(truncateText(el.Text, maxElementText)),
		"elementClasses": model.String(strings.Join(el.Classes, " ")),
		"elementId":      model.String(el.ID),
	}
	if el.Href != "" {
		data["elementHref"] = model.String(el.Href)
	}
	t.emitLocked(model.EventClick, data)
}

// OnSubmit reports a form submission.
func (t *Tracker) OnSubmit(form Form) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return
	}
	t.emitLocked(model.EventFormSubmit, model.Data{
		"formId":      model.String(form.ID),
		"formClasses": model.String(strings.Join(form.Classes, " ")),
		"formAction":  model.String(form.Action),
	})
}

// OnScroll reports a scroll position. Depth is evaluated once scrolling has
// been idle for the debounce period; scroll_depth fires the first time each
// 25% threshold is passed and never for a threshold below one already sent.
func (t *Tracker) OnScroll(pos ScrollPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return
	}
	t.scrollPos = pos
	t.scrollSeq++
	seq := t.scrollSeq
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
	}
	t.scrollTimer = t.clock.AfterFunc(t.cfg.ScrollDebounce, func() {
		t.evaluateScroll(seq)
	})
}

func (t *Tracker) evaluateScroll(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A newer scroll or the unload superseded this evaluation.
	if seq != t.scrollSeq {
		return
	}
	t.scrollTimer = nil

	threshold := scrollThreshold(t.scrollPos.Percent())
	if threshold < 25 || threshold <= t.maxScrollDepth {
		return
	}
	t.maxScrollDepth = threshold
	t.emitLocked(model.EventScrollDepth, model.Data{
		"depth": model.Int(int64(threshold)),
	})
}

// OnUnload reports page teardown: page_unload carries the total time on
// page and the deepest scroll threshold reached. Pending scroll evaluation
// is abandoned.
func (t *Tracker) OnUnload() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return
	}
	t.scrollSeq++
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
	t.emitLocked(model.EventPageUnload, model.Data{
		"timeOnPage":     model.Int(t.clock.Now().Sub(t.pageStart).Milliseconds()),
		"maxScrollDepth": model.Int(int64(t.maxScrollDepth)),
	})
}

func (t *Tracker) pageViewLocked(data model.Data) {
	t.emitLocked(model.EventPageView, t.page.Info().metadata().Merge(data))
}

func (t *Tracker) emitLocked(eventType string, data model.Data) {
	t.emitAtLocked(eventType, data, t.clock.Now())
}

// emitAtLocked builds the event captured at the given time and hands it to
// the transport. Transports never block, so this is safe under the lock and
// keeps emission order.
func (t *Tracker) emitAtLocked(eventType string, data model.Data, at time.Time) {
	info := t.page.Info()
	event := model.Event{
		TrackingID: t.trackingID,
		VisitorID:  t.visitorID,
		SessionID:  t.sessionID,
		EventType:  eventType,
		PageURL:    info.URL,
		PageTitle:  info.Title,
		Referrer:   info.Referrer,
		Timestamp:  model.FormatTimestamp(at),
		CustomData: data.Clone(),
	}
	t.debug("event", "event_type", eventType)
	t.transport.Send(event)
}

func (t *Tracker) debug(msg string, args ...any) {
	if t.cfg.Debug {
		t.logger.Debug(msg, args...)
	}
}
