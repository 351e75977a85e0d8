// Package metrics exposes the Prometheus instrumentation for the decision
// core: decision outcomes, oracle fallbacks, queue pressure, and task
// lifecycle counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all tradekernel metrics. Methods are nil-safe so components
// can run without instrumentation in tests.
type Registry struct {
	DecisionsTotal   *prometheus.CounterVec
	DecisionLatency  prometheus.Histogram
	OracleOutcomes   *prometheus.CounterVec
	TasksTotal       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	ActiveWorkers    prometheus.Gauge
	AdaptationsTotal *prometheus.CounterVec
	SuspensionsGauge prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates and registers all metrics on a fresh Prometheus
// registry.
func NewRegistry() *Registry {
	r := &Registry{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradekernel_decisions_total",
				Help: "Decisions produced, by direction and safety verdict",
			},
			[]string{"direction", "verdict"},
		),
		DecisionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradekernel_decision_latency_seconds",
				Help:    "End-to-end latency of policy engine decisions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
			},
		),
		OracleOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradekernel_oracle_outcomes_total",
				Help: "Advisory oracle call outcomes (ok, timeout, error, skipped)",
			},
			[]string{"outcome"},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradekernel_tasks_total",
				Help: "Tasks reaching a terminal state, by type and state",
			},
			[]string{"type", "state"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradekernel_queue_depth",
				Help: "Tasks currently waiting in the orchestrator queue",
			},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradekernel_active_workers",
				Help: "Workers currently executing a task",
			},
		),
		AdaptationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradekernel_adaptations_total",
				Help: "Parameter updates applied by the adaptive manager, by strategy",
			},
			[]string{"strategy"},
		),
		SuspensionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradekernel_active_suspensions",
				Help: "Safety suspensions currently in force",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.DecisionsTotal, r.DecisionLatency, r.OracleOutcomes, r.TasksTotal,
		r.QueueDepth, r.ActiveWorkers, r.AdaptationsTotal, r.SuspensionsGauge,
	)
	return r
}

// Gatherer returns the underlying registry for the /metrics handler.
func (r *Registry) Gatherer() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordDecision counts one produced decision.
func (r *Registry) RecordDecision(direction, verdict string, seconds float64) {
	if r == nil {
		return
	}
	r.DecisionsTotal.WithLabelValues(direction, verdict).Inc()
	r.DecisionLatency.Observe(seconds)
}

// RecordOracleOutcome counts one oracle consultation by outcome tag.
func (r *Registry) RecordOracleOutcome(outcome string) {
	if r == nil {
		return
	}
	r.OracleOutcomes.WithLabelValues(outcome).Inc()
}

// RecordTaskTerminal counts a task reaching a terminal state.
func (r *Registry) RecordTaskTerminal(taskType, state string) {
	if r == nil {
		return
	}
	r.TasksTotal.WithLabelValues(taskType, state).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (r *Registry) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.QueueDepth.Set(float64(depth))
}

// WorkerStarted and WorkerFinished track the busy-worker gauge.
func (r *Registry) WorkerStarted() {
	if r == nil {
		return
	}
	r.ActiveWorkers.Inc()
}

func (r *Registry) WorkerFinished() {
	if r == nil {
		return
	}
	r.ActiveWorkers.Dec()
}

// RecordAdaptation counts one applied parameter update.
func (r *Registry) RecordAdaptation(strategy string) {
	if r == nil {
		return
	}
	r.AdaptationsTotal.WithLabelValues(strategy).Inc()
}

// SetActiveSuspensions updates the suspension gauge.
func (r *Registry) SetActiveSuspensions(n int) {
	if r == nil {
		return
	}
	r.SuspensionsGauge.Set(float64(n))
}
