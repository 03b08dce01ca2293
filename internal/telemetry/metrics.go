// Package telemetry holds the Prometheus metrics and the OpenTelemetry
// tracer shared by the engine and the HTTP API.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "invite_runner"

// Metrics are the run-level Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	attempts   *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished invitation runs by outcome kind.",
		}, []string{"outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of invitation runs.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"outcome"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently holding a browser.",
		}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locate_attempts_total",
			Help:      "Control lookup attempts by control, strategy kind and result.",
		}, []string{"control", "strategy", "result"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_rejections_total",
			Help:      "Requests refused before a run started.",
		}, []string{"reason"}),
	}
}

// RunStarted marks a run as in flight and returns the func that finishes it.
func (m *Metrics) RunStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(outcome string) {
		m.inFlight.Dec()
		m.runs.WithLabelValues(outcome).Inc()
		m.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// LocateAttempt counts one strategy attempt.
func (m *Metrics) LocateAttempt(control, strategy, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(control, strategy, result).Inc()
}

// Rejected counts a request refused by the API.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}
