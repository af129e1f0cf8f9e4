package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon"

// PrometheusRecorder exports metrics through its own registry so several
// recorders (one per test) never collide on registration.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	eventsAccepted  *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	rateLimited     *prometheus.CounterVec
	eventsForwarded *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	queueDepth      prometheus.Gauge
	ingestLag       prometheus.Histogram
}

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered alongside the application metrics.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Tracking submissions by outcome",
		}, []string{"status"}),
		eventsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Accepted events by type; non built-in types are labelled custom",
		}, []string{"event_type"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent handling a tracking submission",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by policy",
		}, []string{"policy"}),
		eventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Accepted events handed downstream, by outcome",
		}, []string{"status"}),
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events consumed by the worker, by outcome",
		}, []string{"status"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_batch_size",
			Help:      "Messages per worker batch",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_batch_duration_seconds",
			Help:      "Worker batch processing time",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Pending messages for the worker consumer group",
		}),
		ingestLag: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_lag_seconds",
			Help:      "Delay between receipt and persistence",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncEventReceived(status string) {
	p.eventsReceived.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncEventAccepted(eventType string) {
	p.eventsAccepted.WithLabelValues(eventType).Inc()
}

func (p *PrometheusRecorder) ObserveIngestDuration(duration time.Duration) {
	p.ingestDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRateLimited(policy string) {
	p.rateLimited.WithLabelValues(policy).Inc()
}

func (p *PrometheusRecorder) IncEventForwarded(status string) {
	p.eventsForwarded.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncEventProcessed(status string) {
	p.eventsProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveBatchSize(size int) {
	p.batchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveBatchDuration(duration time.Duration) {
	p.batchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(depth int64) {
	p.queueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveIngestLag(lag time.Duration) {
	p.ingestLag.Observe(lag.Seconds())
}
