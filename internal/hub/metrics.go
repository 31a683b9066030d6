package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects hub counters on a private registry so several hubs can
// coexist in one process (and in tests).
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsOpen     prometheus.Gauge
	FramesReceived      *prometheus.CounterVec
	MessagesPersisted   prometheus.Counter
	BroadcastRecipients prometheus.Counter
	DroppedSends        prometheus.Counter
	Notifications       prometheus.Counter
	TypingExpired       prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "connections_open",
			Help:      "Number of open websocket connections.",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "messages_persisted_total",
			Help:      "Chat messages accepted and persisted.",
		}),
		BroadcastRecipients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "broadcast_recipients_total",
			Help:      "Recipients reached across all room broadcasts.",
		}),
		DroppedSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "dropped_sends_total",
			Help:      "Payloads dropped because a send queue was full or closed.",
		}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "notifications_delivered_total",
			Help:      "Notification frames delivered to subscribed connections.",
		}),
		TypingExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "commune",
			Subsystem: "hub",
			Name:      "typing_expired_total",
			Help:      "Typing flags force-cleared by the sweeper.",
		}),
	}
}

// Handler exposes the hub metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
