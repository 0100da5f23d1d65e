package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audio stream server.
// Counters touched from the capture callback are lock-free atomics.
type Metrics struct {
	registry *prometheus.Registry

	// Capture path
	BlocksCaptured  prometheus.Counter
	BlocksDropped   prometheus.Counter
	CaptureStatus   *prometheus.CounterVec
	DeviceFailures  prometheus.Counter
	SourceRunning   prometheus.Gauge
	RelaySubscribed prometheus.Gauge

	// Sessions
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	SignalMessages *prometheus.CounterVec

	// Transport
	RTPPackets prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_blocks_captured_total",
			Help: "Total number of audio blocks delivered by the capture device",
		}),
		BlocksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_blocks_dropped_total",
			Help: "Total number of blocks dropped on full subscriber queues",
		}),
		CaptureStatus: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_capture_status_flags_total",
			Help: "Blocks delivered with a device xrun flag set",
		}, []string{"flag"}),
		DeviceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_device_failures_total",
			Help: "Capture device open or runtime failures",
		}),
		SourceRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_source_running",
			Help: "1 while the capture device is open",
		}),
		RelaySubscribed: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_relay_subscribers",
			Help: "Current number of relay subscribers",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_active_sessions",
			Help: "Current number of live sessions",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_sessions_total",
			Help: "Finished sessions by terminal state",
		}, []string{"outcome"}),
		SignalMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_signal_messages_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),

		RTPPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_rtp_packets_sent_total",
			Help: "RTP packets written to peer connections",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
