package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	invocations     *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	nodeEvaluations *prometheus.CounterVec
	nodeFailures    *prometheus.CounterVec
	resumed         prometheus.Counter
	repaired        prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reguaflow_invocations_total",
				Help: "Total number of workflow invocations by resulting execution status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reguaflow_invocation_duration_seconds",
				Help:    "Duration of a single workflow invocation in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		nodeEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reguaflow_node_evaluations_total",
				Help: "Total number of node evaluations by node kind and result",
			},
			[]string{"kind", "result"},
		),
		nodeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reguaflow_node_failures_total",
				Help: "Total number of failed node evaluations by node kind and applied policy",
			},
			[]string{"kind", "policy"},
		),
		resumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reguaflow_executions_resumed_total",
			Help: "Total number of waiting executions claimed by the resumer",
		}),
		repaired: factory.NewCounter(prometheus.CounterOpts{
			Name: "reguaflow_executions_repaired_total",
			Help: "Total number of stuck running executions released for resume",
		}),
	}
}

// nil-safe helpers so the engine runs without metrics in tests and CLI one-shots

func (m *Metrics) observeInvocation(status string, seconds float64) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) observeNode(kind string, result string) {
	if m == nil {
		return
	}
	m.nodeEvaluations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) observeNodeFailure(kind string, policy string) {
	if m == nil {
		return
	}
	m.nodeFailures.WithLabelValues(kind, policy).Inc()
}

func (m *Metrics) observeResumed() {
	if m == nil {
		return
	}
	m.resumed.Inc()
}

func (m *Metrics) observeRepaired() {
	if m == nil {
		return
	}
	m.repaired.Inc()
}
