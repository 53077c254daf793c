package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server instance. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	rooms       prometheus.Gauge
	connections prometheus.Gauge
	frames      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	dropped     prometheus.Counter
	outputs     prometheus.Counter
}

// New registers the colearn collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "colearn",
			Name:      "rooms_live",
			Help:      "Rooms currently held in memory.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "colearn",
			Name:      "connections_open",
			Help:      "Admitted websocket connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colearn",
			Name:      "frames_total",
			Help:      "Inbound frames dispatched by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colearn",
			Name:      "joins_rejected_total",
			Help:      "Join requests rejected by reason code.",
		}, []string{"code"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colearn",
			Name:      "consumers_dropped_total",
			Help:      "Connections dropped because their outbound queue overflowed.",
		}),
		outputs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colearn",
			Name:      "run_output_lines_total",
			Help:      "Run output lines folded into rooms.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rooms, m.connections, m.frames, m.rejected, m.dropped, m.outputs,
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RoomOpened counts a newly created room.
func (m *Metrics) RoomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

// RoomClosed counts an evicted room.
func (m *Metrics) RoomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

// ConnectionOpened counts an admitted websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

// ConnectionClosed counts a released connection.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// Frame counts one dispatched inbound frame of the given type.
func (m *Metrics) Frame(kind string) {
	if m != nil {
		m.frames.WithLabelValues(kind).Inc()
	}
}

// JoinRejected counts a refused join by its wire error code.
func (m *Metrics) JoinRejected(code string) {
	if m != nil {
		m.rejected.WithLabelValues(code).Inc()
	}
}

// Dropped counts n consumers removed for overflowing their queues.
func (m *Metrics) Dropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}

// Output counts one run output line fanned out to a room.
func (m *Metrics) Output() {
	if m != nil {
		m.outputs.Inc()
	}
}
