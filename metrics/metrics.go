// Package metrics exposes Prometheus instrumentation for simulation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm-cable/algaeseek/search"
)

const namespace = "algaeseek"

// Metrics holds the collectors for one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	cycles      prometheus.Counter
	converged   prometheus.Counter
	stopped     *prometheus.CounterVec
	ticksToStop prometheus.Histogram
	peakDist    prometheus.Histogram
	active      prometheus.Gauge
}

// New registers the simulation collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "ticks_total",
			Help:      "Boat-ticks simulated, by search technique",
		}, []string{"technique"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "transitions_total",
			Help:      "Controller state transitions",
		}, []string{"from", "to"}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "gradient_cycles_total",
			Help:      "Completed gradient estimation cycles",
		}),
		converged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "converged_total",
			Help:      "Boats that stopped within the convergence radius of the field peak",
		}),
		stopped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "finished_total",
			Help:      "Boats that finished a run, by final state",
		}, []string{"state"}),
		ticksToStop: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "ticks_to_stop",
			Help:      "Ticks a boat searched before stopping",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10), // 16 to ~8k ticks
		}),
		peakDist: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "final_peak_distance",
			Help:      "Distance between a boat's final pose and the field peak",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 5, 10},
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "active_boats",
			Help:      "Boats still searching",
		}),
	}
}

// ObserveTick counts one boat-tick.
func (m *Metrics) ObserveTick(technique search.Technique) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(technique.String()).Inc()
}

// ObserveTransition counts a state change.
func (m *Metrics) ObserveTransition(tr search.Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(tr.From.String(), tr.To.String()).Inc()
	if tr.From == search.StateEstimatingGradient {
		m.cycles.Inc()
	}
}

// ObserveFinish records a boat's final outcome.
func (m *Metrics) ObserveFinish(state search.State, ticks int, peakDistance float64, converged bool) {
	if m == nil {
		return
	}
	m.stopped.WithLabelValues(state.String()).Inc()
	m.peakDist.Observe(peakDistance)
	if state == search.StateStopped {
		m.ticksToStop.Observe(float64(ticks))
	}
	if converged {
		m.converged.Inc()
	}
}

// SetActive sets the number of boats still searching.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
