// Package metrics holds the Prometheus instruments of the approval workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tally"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	proposals     *prometheus.CounterVec
	votes         *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	applyFailures *prometheus.CounterVec
	sweepRuns     prometheus.Counter
	sweepErrors   prometheus.Counter
	sweeperLeader prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Total number of proposed changes by outcome (direct or request).",
		}, []string{"kind", "outcome"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of votes cast by decision.",
		}, []string{"decision"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of change requests resolved by terminal status.",
		}, []string{"status"}),
		applyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Total number of changes that could not be applied to their item.",
		}, []string{"kind"}),
		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total number of expiry sweeps.",
		}),
		sweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Total number of per-request failures during expiry sweeps.",
		}),
		sweeperLeader: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweeper_leader",
			Help:      "Whether this instance holds the sweeper leader lock (1/0).",
		}),
	}
}

func (m *Metrics) Proposal(kind string, direct bool) {
	if m == nil {
		return
	}
	outcome := "request"
	if direct {
		outcome = "direct"
	}
	m.proposals.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Vote(decision string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(decision).Inc()
}

func (m *Metrics) Resolution(status string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
}

func (m *Metrics) ApplyFailure(kind string) {
	if m == nil {
		return
	}
	m.applyFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Sweep(errors int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepErrors.Add(float64(errors))
}

func (m *Metrics) SweeperLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.sweeperLeader.Set(1)
		return
	}
	m.sweeperLeader.Set(0)
}
