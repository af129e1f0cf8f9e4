package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncEventReceived is a no-op.
func (n *NoopRecorder) IncEventReceived(status string) {}

// IncEventAccepted is a no-op.
func (n *NoopRecorder) IncEventAccepted(eventType string) {}

// ObserveIngestDuration is a no-op.
func (n *NoopRecorder) ObserveIngestDuration(duration time.Duration) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(policy string) {}

// IncEventForwarded is a no-op.
func (n *NoopRecorder) IncEventForwarded(status string) {}

// IncEventProcessed is a no-op.
func (n *NoopRecorder) IncEventProcessed(status string) {}

// ObserveBatchSize is a no-op.
func (n *NoopRecorder) ObserveBatchSize(size int) {}

// ObserveBatchDuration is a no-op.
func (n *NoopRecorder) ObserveBatchDuration(duration time.Duration) {}

// SetQueueDepth is a no-op.
func (n *NoopRecorder) SetQueueDepth(depth int64) {}

// ObserveIngestLag is a no-op.
func (n *NoopRecorder) ObserveIngestLag(lag time.Duration) {}
