package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TrustGate/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events      *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	trustState  prometheus.Gauge
	hypState    prometheus.Gauge
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New registers the gate metrics on reg; nil uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_events_total",
				Help: "Events processed by the gate, by stream and sanitizer classification",
			},
			[]string{"stream", "classification"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_decisions_total",
				Help: "Decisions emitted, by decision",
			},
			[]string{"decision"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_transitions_total",
				Help: "Trust escalations, by trigger",
			},
			[]string{"trigger"},
		),
		trustState: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustgate_trust_state",
			Help: "Current data trust (0 TRUSTED, 1 DEGRADED, 2 UNTRUSTED)",
		}),
		hypState: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustgate_hypothesis_state",
			Help: "Current hypothesis (0 VALID, 1 WEAKENING, 2 INVALID)",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trustgate_last_price",
				Help: "Last accepted reference price per stream",
			},
			[]string{"stream"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trustgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvent(stream string, c models.Classification) {
	r.events.WithLabelValues(stream, c.String()).Inc()
}

func (r *Recorder) RecordDecision(d models.Decision) {
	r.decisions.WithLabelValues(d.String()).Inc()
}

func (r *Recorder) RecordTransition(trigger models.Trigger) {
	r.transitions.WithLabelValues(trigger.String()).Inc()
}

// RecordGateState exports the current states as their severity.
func (r *Recorder) RecordGateState(trust models.TrustState, hyp models.HypothesisState) {
	r.trustState.Set(float64(trust.Severity()))
	r.hypState.Set(float64(hyp.Severity()))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(stream string, price float64) {
	r.lastPrice.WithLabelValues(stream).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
