package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/model"
)

// EventDispatcher hands accepted events downstream without blocking.
type EventDispatcher interface {
	Dispatch(event model.Event)
}

// TrackHandler accepts events from the tracker.
type TrackHandler struct {
	dispatcher EventDispatcher
	validate   *validator.Validate
	logger     *slog.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

// NewTrackHandler creates a new TrackHandler.
func NewTrackHandler(dispatcher EventDispatcher, logger *slog.Logger, recorder metrics.Recorder) *TrackHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &TrackHandler{
		dispatcher: dispatcher,
		validate:   newRequestValidator(),
		logger:     logger.With("component", "handler.track"),
		metrics:    recorder,
		now:        time.Now,
	}
}

// newRequestValidator reports fields by their JSON names.
func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// trackResponse is the success body of POST /track.
type trackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Track handles POST /track.
func (h *TrackHandler) Track(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.now()
	defer func() {
		h.metrics.ObserveIngestDuration(time.Since(receivedAt))
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.reject(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.fail(w, r, err)
		return
	}

	var req model.TrackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(w, r, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	normalizeTrackRequest(&req)

	if msg := h.missingFields(req); msg != "" {
		h.reject(w, r, http.StatusBadRequest, msg)
		return
	}

	event := req.Event(receivedAt).WithServerContext(r.UserAgent(), remoteIP(r), receivedAt)
	h.dispatcher.Dispatch(event)
	h.metrics.IncEventReceived("accepted")
	h.metrics.IncEventAccepted(eventTypeLabel(event.EventType))

	h.logger.Debug("event accepted",
		"tracking_id", event.TrackingID,
		"event_type", event.EventType,
		"session_id", event.SessionID,
	)

	writeJSON(w, http.StatusOK, trackResponse{
		Success: true,
		Message: "Event tracked successfully",
	})
}

// eventTypeLabel bounds metric cardinality: caller-defined types share one
// label.
func eventTypeLabel(eventType string) string {
	if model.IsBuiltinEventType(eventType) {
		return eventType
	}
	return "custom"
}

// missingFields returns the client-facing error for absent required
// fields, or "" when the request is complete. Fields are listed in
// declaration order.
func (h *TrackHandler) missingFields(req model.TrackRequest) string {
	err := h.validate.Struct(req)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return "Missing required fields: " + strings.Join(names, ", ")
}

func (h *TrackHandler) reject(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.metrics.IncEventReceived("invalid")
	h.logger.Debug("event rejected",
		"status", status,
		"reason", msg,
		"user_agent", r.UserAgent(),
	)
	writeError(w, status, msg)
}

func (h *TrackHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.IncEventReceived("error")
	h.logger.Error("failed to read tracking request",
		"error", err,
		"remote_addr", r.RemoteAddr,
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// trackHealthResponse is the body of GET /track/health.
type trackHealthResponse struct {
	Success   bool   `json:"success"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /track/health.
func (h *TrackHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, trackHealthResponse{
		Success:   true,
		Service:   "tracking",
		Timestamp: model.FormatTimestamp(h.now()),
	})
}

// normalizeTrackRequest trims identifiers so whitespace-only values count
// as missing.
func normalizeTrackRequest(req *model.TrackRequest) {
	req.TrackingID = strings.TrimSpace(req.TrackingID)
	req.PageURL = strings.TrimSpace(req.PageURL)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.VisitorID = strings.TrimSpace(req.VisitorID)
}

// remoteIP returns the client address without its port. The router's
// RealIP middleware has already applied proxy headers to RemoteAddr.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
