package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	EventsReceived      map[string]uint64
	EventsAccepted      map[string]uint64
	IngestDurationCount uint64
	IngestDurationTotal time.Duration
	RateLimited         map[string]uint64
	EventsForwarded     map[string]uint64
	EventsProcessed     map[string]uint64
	BatchCount          uint64
	BatchSizeTotal      uint64
	BatchDurationTotal  time.Duration
	QueueDepth          int64
	IngestLagCount      uint64
	IngestLagTotal      time.Duration
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{snap: Snapshot{
		EventsReceived:  make(map[string]uint64),
		EventsAccepted:  make(map[string]uint64),
		RateLimited:     make(map[string]uint64),
		EventsForwarded: make(map[string]uint64),
		EventsProcessed: make(map[string]uint64),
	}}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.EventsReceived = copyCounts(m.snap.EventsReceived)
	out.EventsAccepted = copyCounts(m.snap.EventsAccepted)
	out.RateLimited = copyCounts(m.snap.RateLimited)
	out.EventsForwarded = copyCounts(m.snap.EventsForwarded)
	out.EventsProcessed = copyCounts(m.snap.EventsProcessed)
	return out
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IncEventReceived counts a /track submission by outcome.
func (m *InMemoryRecorder) IncEventReceived(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsReceived[status]++
}

// IncEventAccepted counts an accepted event by type label.
func (m *InMemoryRecorder) IncEventAccepted(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsAccepted[eventType]++
}

// ObserveIngestDuration records handler latency.
func (m *InMemoryRecorder) ObserveIngestDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.IngestDurationCount++
	m.snap.IngestDurationTotal += duration
}

// IncRateLimited counts a rejected request by policy.
func (m *InMemoryRecorder) IncRateLimited(policy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.RateLimited[policy]++
}

// IncEventForwarded counts a downstream hand-off by outcome.
func (m *InMemoryRecorder) IncEventForwarded(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsForwarded[status]++
}

// IncEventProcessed counts a worker result by outcome.
func (m *InMemoryRecorder) IncEventProcessed(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsProcessed[status]++
}

// ObserveBatchSize records a worker batch size.
func (m *InMemoryRecorder) ObserveBatchSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.BatchCount++
	m.snap.BatchSizeTotal += uint64(size)
}

// ObserveBatchDuration records worker batch latency.
func (m *InMemoryRecorder) ObserveBatchDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.BatchDurationTotal += duration
}

// SetQueueDepth records the pending message count.
func (m *InMemoryRecorder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.QueueDepth = depth
}

// ObserveIngestLag records receipt-to-persist lag.
func (m *InMemoryRecorder) ObserveIngestLag(lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.IngestLagCount++
	m.snap.IngestLagTotal += lag
}
