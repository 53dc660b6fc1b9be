// Package metrics exposes Prometheus counters for packet traffic and game checks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "smo_connector"

// Metrics holds the connector's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and optional wiring simple.
type Metrics struct {
	registry *prometheus.Registry

	packetsIn     *prometheus.CounterVec
	packetsOut    *prometheus.CounterVec
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	decodeErrors  *prometheus.CounterVec
	activeClients prometheus.Gauge
	connections   *prometheus.CounterVec
	checks        *prometheus.CounterVec
	deathLinks    prometheus.Counter
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_received_total",
			Help:      "Packets received from clients by type",
		}, []string{"type"}),
		packetsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_sent_total",
			Help:      "Packets sent to clients by type",
		}, []string{"type"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes received from clients, headers included",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes sent to clients, headers included",
		}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound packets dropped because they failed to decode",
		}, []string{"reason"}),
		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_clients",
			Help:      "Clients currently connected",
		}),
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_total",
			Help:      "Accepted client handshakes by connection mode",
		}, []string{"mode"}),
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checks_total",
			Help:      "Checks reported by clients by kind",
		}, []string{"kind"}),
		deathLinks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "death_links_total",
			Help:      "Death link signals received",
		}),
	}
}

// PacketReceived counts one inbound packet of size bytes.
func (m *Metrics) PacketReceived(packetType string, size int) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(packetType).Inc()
	m.bytesIn.Add(float64(size))
}

// PacketSent counts one outbound packet of size bytes.
func (m *Metrics) PacketSent(packetType string, size int) {
	if m == nil {
		return
	}
	m.packetsOut.WithLabelValues(packetType).Inc()
	m.bytesOut.Add(float64(size))
}

// DecodeError counts a dropped inbound packet.
func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// ClientConnected counts a handshake and raises the active client gauge.
func (m *Metrics) ClientConnected(mode string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(mode).Inc()
	m.activeClients.Inc()
}

// ClientDisconnected lowers the active client gauge.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.activeClients.Dec()
}

// CheckRecorded counts a check of the given kind.
func (m *Metrics) CheckRecorded(kind string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(kind).Inc()
}

// DeathLink counts a death link signal.
func (m *Metrics) DeathLink() {
	if m == nil {
		return
	}
	m.deathLinks.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
