package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the telemetry pipeline end to end: readings in,
// rejections, evaluation outcomes, event fan-out, notifications and the
// broker link. Stage labels name pipeline stages (normalize, persist,
// publish), not transport types.
type Metrics struct {
	// Ingestion
	ReadingsReceived  prometheus.Counter
	ReadingsRejected  *prometheus.CounterVec
	ReadingsEvaluated *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageErrors       *prometheus.CounterVec

	// Outbound events
	EventsPublished      *prometheus.CounterVec
	PublishQueueDepth    prometheus.Gauge
	NotificationsEmitted prometheus.Counter

	// Component and broker state
	ComponentUp   *prometheus.GaugeVec
	NATSConnected prometheus.Gauge
	NATSRTT       prometheus.Gauge
}

// NewMetrics creates the pipeline metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "ingest",
				Name:      "readings_received_total",
				Help:      "Raw collar deliveries received from the broker",
			},
		),

		ReadingsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "ingest",
				Name:      "readings_rejected_total",
				Help:      "Deliveries discarded before evaluation, by reason",
			},
			[]string{"reason"},
		),

		ReadingsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "ingest",
				Name:      "readings_evaluated_total",
				Help:      "Readings fully processed, by safety status",
			},
			[]string{"status"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cms",
				Subsystem: "ingest",
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "ingest",
				Name:      "stage_errors_total",
				Help:      "Errors per pipeline stage",
			},
			[]string{"stage"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Enriched events delivered to the broker, by subject",
			},
			[]string{"subject"},
		),

		PublishQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cms",
				Subsystem: "events",
				Name:      "publish_queue_depth",
				Help:      "Events queued waiting for the broker connection",
			},
		),

		NotificationsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cms",
				Subsystem: "events",
				Name:      "notifications_emitted_total",
				Help:      "Durable notifications created from status transitions",
			},
		),

		ComponentUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cms",
				Subsystem: "health",
				Name:      "component_up",
				Help:      "Component health (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cms",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cms",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),
	}
}

// RecordReadingReceived counts one raw delivery.
func (c *Metrics) RecordReadingReceived() {
	c.ReadingsReceived.Inc()
}

// RecordReadingRejected counts a discarded delivery by reason.
func (c *Metrics) RecordReadingRejected(reason string) {
	c.ReadingsRejected.WithLabelValues(reason).Inc()
}

// RecordReadingEvaluated counts a fully processed reading by safety status.
func (c *Metrics) RecordReadingEvaluated(status string) {
	c.ReadingsEvaluated.WithLabelValues(status).Inc()
}

// RecordStageDuration records one stage's latency.
func (c *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStageError counts an error in a pipeline stage.
func (c *Metrics) RecordStageError(stage string) {
	c.StageErrors.WithLabelValues(stage).Inc()
}

// RecordEventPublished counts one event delivered to the broker.
func (c *Metrics) RecordEventPublished(subject string) {
	c.EventsPublished.WithLabelValues(subject).Inc()
}

// SetPublishQueueDepth reports the pending-publish backlog.
func (c *Metrics) SetPublishQueueDepth(depth int) {
	c.PublishQueueDepth.Set(float64(depth))
}

// RecordNotificationEmitted counts one durable notification.
func (c *Metrics) RecordNotificationEmitted() {
	c.NotificationsEmitted.Inc()
}

// RecordHealthStatus updates a component's health gauge.
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.ComponentUp.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates the NATS round-trip time gauge.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}
