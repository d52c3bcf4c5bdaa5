package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	gateDecisions *prometheus.CounterVec
	locks         *prometheus.CounterVec
	throttle      *prometheus.CounterVec
	regime        *prometheus.GaugeVec
	regimeFlips   *prometheus.CounterVec
	events        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_gate_decisions_total",
				Help: "Gate decisions by gate, call class and reason",
			},
			[]string{"gate", "class", "reason", "allowed"},
		),
		locks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_lock_operations_total",
				Help: "Lock operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		throttle: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_throttle_checks_total",
				Help: "Order throttle results by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		regime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatekeeper_regime_current",
				Help: "1 for the regime currently held per symbol",
			},
			[]string{"symbol", "regime"},
		),
		regimeFlips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_regime_transitions_total",
				Help: "Accepted regime transitions",
			},
			[]string{"symbol", "regime"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_event_decisions_total",
				Help: "Event decisions by symbol and mode",
			},
			[]string{"symbol", "mode"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordGateDecision(gate, class, reason string, allowed bool) {
	r.gateDecisions.WithLabelValues(gate, class, reason, strconv.FormatBool(allowed)).Inc()
}

func (r *Recorder) RecordLock(kind, outcome string) {
	r.locks.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) RecordThrottle(action, outcome string) {
	r.throttle.WithLabelValues(action, outcome).Inc()
}

// RecordRegime keeps one gauge series per symbol at 1 and counts flips.
func (r *Recorder) RecordRegime(symbol, regime string, changed bool) {
	if !changed {
		return
	}
	r.regime.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	r.regime.WithLabelValues(symbol, regime).Set(1)
	r.regimeFlips.WithLabelValues(symbol, regime).Inc()
}

func (r *Recorder) RecordEvent(symbol, mode string) {
	r.events.WithLabelValues(symbol, mode).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordGateDecision(string, string, string, bool) {}
func (Nop) RecordLock(string, string)                       {}
func (Nop) RecordThrottle(string, string)                   {}
func (Nop) RecordRegime(string, string, bool)               {}
func (Nop) RecordEvent(string, string)                      {}
func (Nop) RecordError(string)                              {}
func (Nop) RecordLatency(string, float64)                   {}
