// Package metrics exposes Prometheus collectors for the HTTP surface and the
// live chat path.
package metrics

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nfrund/orgchat/internal/chat"
)

const namespace = "chat"

// Metrics owns a private registry so several servers can coexist in one
// process, which the tests rely on.
type Metrics struct {
	registry *prometheus.Registry

	liveConnections prometheus.Gauge
	roomJoins       prometheus.Counter
	messagesSent    *prometheus.CounterVec
	peerDrops       prometheus.Counter
}

var _ chat.Observer = (*Metrics)(nil)

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Authenticated live connections currently open.",
		}),
		roomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "Successful room joins.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages stored and broadcast, by originating path.",
		}, []string{"path"}),
		peerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_drops_total",
			Help:      "Frames dropped because a connection's send buffer was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.liveConnections,
		m.roomJoins,
		m.messagesSent,
		m.peerDrops,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts, sizes and latencies.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: m.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/ws"
		},
	})
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: m.registry})
}

func (m *Metrics) ConnectionOpened()       { m.liveConnections.Inc() }
func (m *Metrics) ConnectionClosed()       { m.liveConnections.Dec() }
func (m *Metrics) RoomJoined()             { m.roomJoins.Inc() }
func (m *Metrics) MessageSent(path string) { m.messagesSent.WithLabelValues(path).Inc() }
func (m *Metrics) PeerDropped()            { m.peerDrops.Inc() }
