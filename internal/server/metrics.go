package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mirrors the broker counters into a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	activeClients    prometheus.Gauge
	publicMessages   prometheus.Counter
	privateMessages  prometheus.Counter
	offlineQueued    prometheus.Counter
	offlineDelivered prometheus.Counter
	rateLimited      prometheus.Counter
	rejected         *prometheus.CounterVec
	pushSubscribers  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "active_clients",
			Help:      "Sessions that completed the handshake and are still connected.",
		}),
		publicMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "public_messages_total",
			Help:      "Public messages broadcast.",
		}),
		privateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "private_messages_total",
			Help:      "Private messages delivered to an online recipient.",
		}),
		offlineQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "offline_messages_queued_total",
			Help:      "Private messages stored for an offline recipient.",
		}),
		offlineDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "offline_messages_delivered_total",
			Help:      "Stored private messages delivered on join.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "rate_limited_total",
			Help:      "Frames dropped by the per-nickname rate limiter.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "handshakes_rejected_total",
			Help:      "Connections discarded before becoming active.",
		}, []string{"reason"}),
		pushSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "push_subscribers",
			Help:      "Connected push-channel consumers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeClients,
		m.publicMessages,
		m.privateMessages,
		m.offlineQueued,
		m.offlineDelivered,
		m.rateLimited,
		m.rejected,
		m.pushSubscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setClients(n int) {
	if m != nil {
		m.activeClients.Set(float64(n))
	}
}

func (m *Metrics) incPublic() {
	if m != nil {
		m.publicMessages.Inc()
	}
}

func (m *Metrics) incPrivate() {
	if m != nil {
		m.privateMessages.Inc()
	}
}

func (m *Metrics) incOfflineQueued() {
	if m != nil {
		m.offlineQueued.Inc()
	}
}

func (m *Metrics) addOfflineDelivered(n int) {
	if m != nil {
		m.offlineDelivered.Add(float64(n))
	}
}

func (m *Metrics) incRateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) incRejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) setSubscribers(n int) {
	if m != nil {
		m.pushSubscribers.Set(float64(n))
	}
}
