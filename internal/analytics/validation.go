package analytics

import (
	"fmt"

	"github.com/beacon/beacon/internal/model"
)

const (
	maxIDLength        = 128
	maxEventTypeLength = 100
	maxURLLength       = 2048
	maxTitleLength     = 1000
)

// ValidateEvent checks an event read back from the stream before it is
// persisted. The ingestion endpoint only enforces presence; these bounds
// keep oversized values out of the database.
func ValidateEvent(event model.Event) error {
	required := []struct {
		name  string
		value string
	}{
		{"trackingId", event.TrackingID},
		{"visitorId", event.VisitorID},
		{"sessionId", event.SessionID},
		{"eventType", event.EventType},
		{"pageUrl", event.PageURL},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}

	if len(event.TrackingID) > maxIDLength {
		return fmt.Errorf("trackingId too long")
	}
	if len(event.VisitorID) > maxIDLength || len(event.SessionID) > maxIDLength {
		return fmt.Errorf("identity too long")
	}
	if len(event.EventType) > maxEventTypeLength {
		return fmt.Errorf("eventType too long")
	}
	if len(event.PageURL) > maxURLLength || len(event.Referrer) > maxURLLength {
		return fmt.Errorf("url too long")
	}
	if len(event.PageTitle) > maxTitleLength {
		return fmt.Errorf("pageTitle too long")
	}
	if len(event.UserAgent) > MaxUserAgentLength {
		return fmt.Errorf("userAgent too long")
	}
	if event.ReceivedAt.IsZero() {
		return fmt.Errorf("receivedAt must be set")
	}
	return nil
}
