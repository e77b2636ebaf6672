// Package metrics exposes Prometheus collectors for the notification gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_gateway"

// Metrics groups the gateway collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	users            prometheus.Gauge
	rooms            prometheus.Gauge
	authFailures     *prometheus.CounterVec
	clientMessages   *prometheus.CounterVec
	triggers         *prometheus.CounterVec
	deliveries       prometheus.Counter
	droppedFrames    prometheus.Counter
	fanoutRecipients prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Authenticated WebSocket connections currently open.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Distinct users with at least one open connection.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms known to the router, including empty project rooms.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Connections closed because the token failed verification.",
		}, []string{"reason"}),
		clientMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_messages_total",
			Help:      "Client-to-server messages by event and outcome.",
		}, []string{"event", "outcome"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger calls by targeting kind.",
		}, []string{"target"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Frames enqueued to client connections.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection's send buffer was full or closed.",
		}),
		fanoutRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_recipients",
			Help:      "Connections targeted per broadcast.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
	}

	reg.MustRegister(
		m.connections,
		m.users,
		m.rooms,
		m.authFailures,
		m.clientMessages,
		m.triggers,
		m.deliveries,
		m.droppedFrames,
		m.fanoutRecipients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetPopulation records the current connection, user and room counts.
func (m *Metrics) SetPopulation(connections, users, rooms int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.users.Set(float64(users))
	m.rooms.Set(float64(rooms))
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ClientMessage(event, outcome string) {
	if m == nil {
		return
	}
	m.clientMessages.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Trigger(target string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(target).Inc()
}

// Fanout records one broadcast that targeted recipients connections, of
// which delivered accepted the frame.
func (m *Metrics) Fanout(recipients, delivered int) {
	if m == nil {
		return
	}
	m.fanoutRecipients.Observe(float64(recipients))
	m.deliveries.Add(float64(delivered))
	if dropped := recipients - delivered; dropped > 0 {
		m.droppedFrames.Add(float64(dropped))
	}
}
