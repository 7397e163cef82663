package statemachine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "connector"

// Metrics records state machine activity. A nil *Metrics is a no-op.
type Metrics struct {
	processed  *prometheus.CounterVec
	saturated  *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
	iterations *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "state_machine",
			Name:      "entities_processed_total",
			Help:      "Entities handled by a state processor, by outcome",
		}, []string{"process", "state", "outcome"}),
		saturated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "state_machine",
			Name:      "async_saturated_total",
			Help:      "Entities released because the async dispatch limit was reached",
		}, []string{"process"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "state_machine",
			Name:      "async_in_flight",
			Help:      "Async processors currently running",
		}, []string{"process"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "state_machine",
			Name:      "iteration_duration_seconds",
			Help:      "Duration of one polling iteration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process"}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.saturated, m.inFlight, m.iterations)
	}
	return m
}

func (m *Metrics) observe(process, state, outcome string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(process, state, outcome).Inc()
}

func (m *Metrics) saturate(process string) {
	if m == nil {
		return
	}
	m.saturated.WithLabelValues(process).Inc()
}

func (m *Metrics) inFlightAdd(process string, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(process).Add(delta)
}

func (m *Metrics) iteration(process string, d time.Duration) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(process).Observe(d.Seconds())
}
