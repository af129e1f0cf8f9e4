// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// Built-in event types emitted by the tracker. Tenants may send any other
// non-empty string as a custom type.
const (
	EventPageView    = "page_view"
	EventPageHidden  = "page_hidden"
	EventPageVisible = "page_visible"
	EventClick       = "click"
	EventFormSubmit  = "form_submit"
	EventScrollDepth = "scroll_depth"
	EventPageUnload  = "page_unload"
)

// DefaultEventType is used when a submission omits eventType.
const DefaultEventType = EventPageView

// TimestampLayout is the ISO-8601 layout used for client capture times.
// It matches what browsers produce from Date.prototype.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// IsBuiltinEventType reports whether t is one of the tracker's own types.
func IsBuiltinEventType(t string) bool {
	switch t {
	case EventPageView, EventPageHidden, EventPageVisible, EventClick,
		EventFormSubmit, EventScrollDepth, EventPageUnload:
		return true
	}
	return false
}

// Event is one recorded interaction or lifecycle signal.
// Events are values: copy them, never mutate one that has been handed off.
type Event struct {
	TrackingID string `json:"trackingId"`
	VisitorID  string `json:"visitorId"`
	SessionID  string `json:"sessionId"`
	EventType  string `json:"eventType"`
	PageURL    string `json:"pageUrl"`
	PageTitle  string `json:"pageTitle,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Timestamp  string `json:"timestamp"` // ISO-8601 capture time
	CustomData Data   `json:"customData,omitempty"`

	// Server-observed request metadata, set at the ingestion boundary.
	UserAgent  string    `json:"userAgent,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitzero"`
}

// FormatTimestamp renders t in TimestampLayout, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// CapturedAt parses the client timestamp. ok is false when it is missing or
// not ISO-8601.
func (e Event) CapturedAt() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, TimestampLayout, time.RFC3339} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WithServerContext returns a copy of e enriched with request metadata.
func (e Event) WithServerContext(userAgent, ip string, receivedAt time.Time) Event {
	out := e
	out.CustomData = e.CustomData.Clone()
	out.UserAgent = userAgent
	out.IPAddress = ip
	out.ReceivedAt = receivedAt.UTC()
	return out
}

// TrackRequest is the wire form of POST /track.
type TrackRequest struct {
	TrackingID string `json:"trackingId" validate:"required"`
	EventType  string `json:"eventType"`
	PageURL    string `json:"pageUrl" validate:"required"`
	PageTitle  string `json:"pageTitle"`
	Referrer   string `json:"referrer"`
	SessionID  string `json:"sessionId" validate:"required"`
	VisitorID  string `json:"visitorId" validate:"required"`
	Timestamp  string `json:"timestamp"`
	CustomData Data   `json:"customData"`
}

// Event builds the Event described by the request. A blank eventType falls
// back to DefaultEventType and a blank timestamp to now.
func (r TrackRequest) Event(now time.Time) Event {
	eventType := strings.TrimSpace(r.EventType)
	if eventType == "" {
		eventType = DefaultEventType
	}
	ts := r.Timestamp
	if ts == "" {
		ts = FormatTimestamp(now)
	}
	return Event{
		TrackingID: r.TrackingID,
		VisitorID:  r.VisitorID,
		SessionID:  r.SessionID,
		EventType:  eventType,
		PageURL:    r.PageURL,
		PageTitle:  r.PageTitle,
		Referrer:   r.Referrer,
		Timestamp:  ts,
		CustomData: r.CustomData.Clone(),
	}
}

// StoredEvent is an accepted event as persisted by the analytics worker.
type StoredEvent struct {
	ID         string    `json:"id"`        // ULID (time-sortable)
	StreamID   string    `json:"stream_id"` // Idempotency key (Redis stream ID)
	Event      Event     `json:"event"`
	OccurredAt time.Time `json:"occurred_at"` // client timestamp, or receipt time if unparseable
}

// DailyStats is the per-tenant daily rollup maintained by the worker.
type DailyStats struct {
	ID                 string           `json:"id"`
	TrackingID         string           `json:"tracking_id"`
	Date               time.Time        `json:"date"`
	TotalEvents        int64            `json:"total_events"`
	UniqueVisitors     int64            `json:"unique_visitors"`
	UniqueSessions     int64            `json:"unique_sessions"`
	EventTypeBreakdown map[string]int64 `json:"event_type_breakdown"`
	ReferrerBreakdown  map[string]int64 `json:"referrer_breakdown"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// EventTypeCount is the number of events of one type.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// Request returns the wire form of e, as the tracker submits it.
func (e Event) Request() TrackRequest {
	return TrackRequest{
		TrackingID: e.TrackingID,
		EventType:  e.EventType,
		PageURL:    e.PageURL,
		PageTitle:  e.PageTitle,
		Referrer:   e.Referrer,
		SessionID:  e.SessionID,
		VisitorID:  e.VisitorID,
		Timestamp:  e.Timestamp,
		CustomData: e.CustomData,
	}
}
