package fanout

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
)

// Metrics holds Prometheus metrics for the fan-out server.
type Metrics struct {
	clientsConnected    prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec
	messagesSent        *prometheus.CounterVec
	bytesSent           prometheus.Counter
	broadcastDuration   *prometheus.HistogramVec
	errorsTotal         *prometheus.CounterVec
}

// newMetrics creates and registers fan-out metrics. A nil registry yields
// nil metrics; callers guard every use.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "clients_connected",
			Help:      "Number of currently connected WebSocket clients",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),

		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"reason"}),

		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "messages_sent_total",
			Help:      "Total messages delivered to WebSocket clients",
		}, []string{"channel"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "bytes_sent_total",
			Help:      "Total bytes delivered to WebSocket clients",
		}),

		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one event to all clients",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"channel"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms",
			Subsystem: "fanout",
			Name:      "errors_total",
			Help:      "Fan-out server errors",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.connectionsTotal,
		m.disconnectionsTotal,
		m.messagesSent,
		m.bytesSent,
		m.broadcastDuration,
		m.errorsTotal,
	)

	return m
}
