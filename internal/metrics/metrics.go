// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Ingestion metrics
	IncEventReceived(status string)    // status: "accepted", "invalid", "error"
	IncEventAccepted(eventType string) // built-in type or "custom"
	ObserveIngestDuration(duration time.Duration)
	IncRateLimited(policy string)

	// Downstream metrics
	IncEventForwarded(status string) // status: "success", "failed", "rejected"
	IncEventProcessed(status string) // status: "success", "failed", "skipped"
	ObserveBatchSize(size int)
	ObserveBatchDuration(duration time.Duration)
	SetQueueDepth(depth int64)
	ObserveIngestLag(lag time.Duration)
}

