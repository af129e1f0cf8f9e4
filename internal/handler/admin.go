package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beacon/beacon/internal/model"
)

// maxStatsRange bounds the date range of a daily stats query.
const maxStatsRange = 366 * 24 * time.Hour

const dateLayout = "2006-01-02"

// QueueStats reports downstream stream depths.
type QueueStats interface {
	StreamLengths(ctx context.Context) (stream, deadLetter int64, err error)
}

// BreakerStater reports the forwarder circuit breaker state.
type BreakerStater interface {
	BreakerState() string
}

// DailyStatsReader reads the persisted per-tenant rollups.
type DailyStatsReader interface {
	GetDailyStats(ctx context.Context, trackingID string, from, to time.Time) ([]model.DailyStats, error)
	CountByTypes(ctx context.Context, trackingID string, types []string, from, to time.Time) ([]model.EventTypeCount, error)
}

// AdminHandler provides admin-only endpoints for operations.
type AdminHandler struct {
	forwarder string
	queue     QueueStats
	breaker   BreakerStater
	daily     DailyStatsReader
	logger    *slog.Logger
	started   time.Time
	now       func() time.Time
}

// NewAdminHandler creates a new AdminHandler. queue and daily may be nil
// when the Redis stream or Postgres is not in use.
func NewAdminHandler(forwarder string, queue QueueStats, breaker BreakerStater, daily DailyStatsReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		forwarder: forwarder,
		queue:     queue,
		breaker:   breaker,
		daily:     daily,
		logger:    logger.With("component", "handler.admin"),
		started:   time.Now(),
		now:       time.Now,
	}
}

// QueueDepth is the downstream backlog.
type QueueDepth struct {
	Stream     int64 `json:"stream"`
	DeadLetter int64 `json:"deadLetter"`
}

// StatsResponse represents operational statistics.
type StatsResponse struct {
	Success      bool        `json:"success"`
	Timestamp    string      `json:"timestamp"`
	Service      string      `json:"service"`
	Uptime       string      `json:"uptime"`
	Forwarder    string      `json:"forwarder"`
	BreakerState string      `json:"breakerState"`
	Queue        *QueueDepth `json:"queue,omitempty"`
	QueueError   string      `json:"queueError,omitempty"`
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := StatsResponse{
		Success:      true,
		Timestamp:    model.FormatTimestamp(now),
		Service:      "beacon",
		Uptime:       now.Sub(h.started).Truncate(time.Second).String(),
		Forwarder:    h.forwarder,
		BreakerState: "unknown",
	}
	if h.breaker != nil {
		resp.BreakerState = h.breaker.BreakerState()
	}

	if h.queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		stream, dlq, err := h.queue.StreamLengths(ctx)
		if err != nil {
			h.logger.Error("failed to read stream lengths", "error", err)
			resp.QueueError = "unavailable"
		} else {
			resp.Queue = &QueueDepth{Stream: stream, DeadLetter: dlq}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DailyStatsResponse is the body of the daily stats endpoint.
type DailyStatsResponse struct {
	Success     bool                   `json:"success"`
	TrackingID  string                 `json:"trackingId"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Days        []model.DailyStats     `json:"days"`
	EventCounts []model.EventTypeCount `json:"eventCounts,omitempty"`
}

// DailyStats handles GET /api/v1/admin/tracking/{trackingId}/daily.
// Query: from, to (YYYY-MM-DD, default the last 7 days) and types
// (comma-separated event types to count).
func (h *AdminHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	if h.daily == nil {
		writeError(w, http.StatusServiceUnavailable, "Event storage is not configured")
		return
	}

	trackingID := strings.TrimSpace(chi.URLParam(r, "trackingId"))
	if trackingID == "" {
		writeError(w, http.StatusBadRequest, "trackingId is required")
		return
	}

	from, to, msg := parseDateRange(r, h.now())
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	days, err := h.daily.GetDailyStats(ctx, trackingID, from, to)
	if err != nil {
		h.logger.Error("failed to read daily stats",
			"error", err,
			"tracking_id", trackingID,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if days == nil {
		days = []model.DailyStats{}
	}

	resp := DailyStatsResponse{
		Success:    true,
		TrackingID: trackingID,
		From:       from.Format(dateLayout),
		To:         to.Format(dateLayout),
		Days:       days,
	}

	if types := splitTypes(r.URL.Query().Get("types")); len(types) > 0 {
		// Counts span whole days, so the upper bound is the end of "to".
		counts, err := h.daily.CountByTypes(ctx, trackingID, types, from, to.AddDate(0, 0, 1))
		if err != nil {
			h.logger.Error("failed to count events",
				"error", err,
				"tracking_id", trackingID,
			)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		resp.EventCounts = counts
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseDateRange reads from/to as UTC dates. On failure msg is the
// client-facing error.
func parseDateRange(r *http.Request, now time.Time) (from, to time.Time, msg string) {
	q := r.URL.Query()
	today := now.UTC().Truncate(24 * time.Hour)

	to = today
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, "to must be a date (YYYY-MM-DD)"
		}
		to = t
	}

	from = to.AddDate(0, 0, -6)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, "from must be a date (YYYY-MM-DD)"
		}
		from = t
	}

	switch {
	case from.After(to):
		return time.Time{}, time.Time{}, "from must not be after to"
	case to.Sub(from) > maxStatsRange:
		return time.Time{}, time.Time{}, "date range must not exceed 366 days"
	}
	return from, to, ""
}

func splitTypes(raw string) []string {
	var types []string
	seen := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types
}
