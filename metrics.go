package parley

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions with appropriate labels.
var (
	// stepsTotal tracks committed and failed run-loop iterations by node.
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_steps_total",
		Help: "Total number of run-loop iterations by node and outcome (ok or error)",
	}, []string{"node", "outcome"})

	// transitionsTotal tracks applied transitions.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_transitions_total",
		Help: "Total number of applied transitions by kind, source node, and target node",
	}, []string{"kind", "from", "to"})

	// toolCallsTotal tracks tool and command executions.
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_tool_calls_total",
		Help: "Total number of tool and command executions by name and outcome (ok or error)",
	}, []string{"tool", "outcome"})

	// executorDuration tracks executor capability call time.
	executorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_executor_duration_seconds",
		Help:    "Duration of executor capability calls by executor name",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"executor"})
)

func outcomeLabel(o ToolOutcome) string {
	if o.IsError {
		return "error"
	}
	return "ok"
}
