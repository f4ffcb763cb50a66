// Package metrics collects the Prometheus instruments exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the server exports. Each instance carries
// its own registry so tests can construct isolated sets without tripping
// over duplicate registration in the global one.
type Metrics struct {
	registry *prometheus.Registry

	// Realtime event fabric.
	SocketsConnected prometheus.Gauge
	TopicsActive     prometheus.Gauge
	EventsBroadcast  prometheus.Counter
	EventsDropped    prometheus.Counter
	SocketsTimedOut  prometheus.Counter

	// Voice sessions and media workers.
	VoiceChannels prometheus.Gauge
	VoiceClients  prometheus.Gauge
	MediaWorkers  prometheus.Gauge

	// HTTP surface.
	RequestsTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		SocketsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zling_event_sockets_connected",
			Help: "Current number of connected event websockets.",
		}),
		TopicsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zling_event_topics_active",
			Help: "Current number of topics with at least one subscriber.",
		}),
		EventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "zling_events_broadcast_total",
			Help: "Total events published to the fabric, counted per delivery.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "zling_events_dropped_total",
			Help: "Total event deliveries dropped because a socket queue was full or closed.",
		}),
		SocketsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "zling_event_sockets_timed_out_total",
			Help: "Total websockets closed by the heartbeat watchdog.",
		}),
		VoiceChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zling_voice_channels_active",
			Help: "Current number of live voice channels.",
		}),
		VoiceClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zling_voice_clients_active",
			Help: "Current number of voice clients, connected or pending.",
		}),
		MediaWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zling_media_workers",
			Help: "Number of media workers holding an RTC port.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zling_http_requests_total",
			Help: "HTTP requests served, by method and status class.",
		}, []string{"method", "class"}),
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
