package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	dirClientToUpstream = "client_to_upstream"
	dirUpstreamToClient = "upstream_to_client"
)

// Metrics counts relay activity. A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	pairings     prometheus.Gauge
	frames       *prometheus.CounterVec
	rewrites     prometheus.Counter
	dialFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pairings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat_relay",
			Name:      "active_pairings",
			Help:      "Client connections currently paired with an upstream connection.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "frames_total",
			Help:      "Frames forwarded, by direction.",
		}, []string{"direction"}),
		rewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "handshake_rewrites_total",
			Help:      "Handshake frames whose nickname was marked as relayed.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "upstream_dial_failures_total",
			Help:      "Client connections dropped because the broker could not be reached.",
		}),
	}
	m.registry.MustRegister(m.pairings, m.frames, m.rewrites, m.dialFailures)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setPairings(n int64) {
	if m != nil {
		m.pairings.Set(float64(n))
	}
}

func (m *Metrics) incFrames(direction string) {
	if m != nil {
		m.frames.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) incRewrites() {
	if m != nil {
		m.rewrites.Inc()
	}
}

func (m *Metrics) incDialFailures() {
	if m != nil {
		m.dialFailures.Inc()
	}
}
