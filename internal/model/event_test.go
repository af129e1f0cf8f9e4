package model

import (
	"testing"
	"time"
)

func TestTrackRequest_Event_Defaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := TrackRequest{
		TrackingID: "T1",
		PageURL:    "https://example.com/",
		SessionID:  "s_1",
		VisitorID:  "v_1",
	}

	ev := req.Event(now)

	if ev.EventType != EventPageView {
		t.Errorf("EventType = %q, want %q", ev.EventType, EventPageView)
	}
	if ev.Timestamp != "2026-03-01T10:00:00.000Z" {
		t.Errorf("Timestamp = %q, want server time", ev.Timestamp)
	}
}

func TestTrackRequest_Event_KeepsClientValues(t *testing.T) {
	t.Parallel()

	req := TrackRequest{
		TrackingID: "T1",
		EventType:  "signup_completed",
		PageURL:    "https://example.com/join",
		PageTitle:  "Join",
		Referrer:   "https://google.com/",
		SessionID:  "s_1",
		VisitorID:  "v_1",
		Timestamp:  "2026-03-01T09:59:59.123Z",
		CustomData: Data{"plan": String("pro")},
	}

	ev := req.Event(time.Now())

	if ev.EventType != "signup_completed" || ev.Timestamp != req.Timestamp {
		t.Errorf("client fields not preserved: %+v", ev)
	}
	if !ev.CustomData.Equal(req.CustomData) {
		t.Errorf("CustomData = %v, want %v", ev.CustomData, req.CustomData)
	}
	back := ev.Request()
	if back.PageTitle != req.PageTitle || back.Referrer != req.Referrer || !back.CustomData.Equal(req.CustomData) {
		t.Errorf("Request() = %+v, want %+v", back, req)
	}
}

func TestEvent_WithServerContext_DoesNotMutate(t *testing.T) {
	t.Parallel()

	orig := Event{TrackingID: "T1", CustomData: Data{"k": Int(1)}}
	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))

	enriched := orig.WithServerContext("UA/1.0", "203.0.113.9", received)
	enriched.CustomData["k"] = Int(2)

	if orig.UserAgent != "" || orig.IPAddress != "" {
		t.Error("original event was mutated")
	}
	if n, _ := orig.CustomData["k"].AsInt(); n != 1 {
		t.Error("original customData was mutated")
	}
	if enriched.ReceivedAt.Location() != time.UTC {
		t.Error("ReceivedAt should be normalised to UTC")
	}
}

func TestEvent_CapturedAt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ts     string
		wantOK bool
	}{
		{"2026-03-01T10:00:00.000Z", true},
		{"2026-03-01T10:00:00Z", true},
		{"2026-03-01T10:00:00.123456+02:00", true},
		{"yesterday", false},
		{"", false},
	}

	for _, tt := range tests {
		_, ok := Event{Timestamp: tt.ts}.CapturedAt()
		if ok != tt.wantOK {
			t.Errorf("CapturedAt(%q) ok = %v, want %v", tt.ts, ok, tt.wantOK)
		}
	}
}

func TestIsBuiltinEventType(t *testing.T) {
	t.Parallel()

	for _, et := range []string{EventPageView, EventClick, EventScrollDepth, EventPageUnload} {
		if !IsBuiltinEventType(et) {
			t.Errorf("%s should be built in", et)
		}
	}
	if IsBuiltinEventType("purchase") {
		t.Error("purchase is a custom type")
	}
}
