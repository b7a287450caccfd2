// Package metricsvc exposes the proctor counters to prometheus.
package metricsvc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
)

const namespace = "proctor"

type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
	violations      *prometheus.CounterVec
	deliveryFailed  *prometheus.CounterVec
}

var _ session.Metrics = (*Metrics)(nil)

// New registers the proctor metrics, plus the go & process collectors, on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of monitored sessions in progress.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Number of sessions started.",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of ended sessions.",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 3600, 7200, 10800},
		}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Number of integrity violations reported.",
		}, []string{"type", "severity"}),
		deliveryFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Number of violations a sink failed to receive.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) SessionStarted() {
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded(d time.Duration) {
	m.activeSessions.Dec()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) ViolationRecorded(vt integrity.ViolationType, sev integrity.Severity) {
	m.violations.WithLabelValues(string(vt), string(sev)).Inc()
}

func (m *Metrics) DeliveryFailed(sink string) {
	m.deliveryFailed.WithLabelValues(sink).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
