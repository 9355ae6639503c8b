package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels pipeline runs that reached a resting state.
	OutcomeSuccess = "success"
	// OutcomeError labels pipeline runs that failed internally.
	OutcomeError = "error"
)

const namespace = "mirador_incident"

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of incident pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_seconds",
			Help:      "Incident pipeline latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Incident status transitions, partitioned by target status.",
		},
		[]string{"status"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool gateway calls, partitioned by tool and observation status.",
		},
		[]string{"tool", "status"},
	)

	breakerOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_opens_total",
			Help:      "Number of times a dependency circuit opened.",
		},
		[]string{"dependency"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_executions_total",
			Help:      "Remediation execution attempts, partitioned by overall status.",
		},
		[]string{"status"},
	)

	investigationIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "investigation_iterations",
			Help:      "ReAct iterations used per investigation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	verificationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_confidence_percent",
			Help:      "Resolution confidence computed by verification.",
			Buckets:   []float64{0, 25, 50, 75, 90, 100},
		},
	)
)

// Register attaches mirador-incident collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		pipelineDurationSeconds,
		transitionsTotal,
		toolCallsTotal,
		breakerOpensTotal,
		executionsTotal,
		investigationIterations,
		verificationConfidence,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePipeline records a pipeline run duration and outcome label.
func ObservePipeline(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	pipelineRunsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.Observe(duration.Seconds())
}

// ObserveTransition counts a status change.
func ObserveTransition(status string) {
	transitionsTotal.WithLabelValues(status).Inc()
}

// ObserveToolCall counts a tool gateway call.
func ObserveToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveBreakerOpen counts a circuit opening.
func ObserveBreakerOpen(dependency string) {
	breakerOpensTotal.WithLabelValues(dependency).Inc()
}

// ObserveExecution counts a remediation attempt.
func ObserveExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// ObserveInvestigation records how many iterations an investigation used.
func ObserveInvestigation(iterations int) {
	investigationIterations.Observe(float64(iterations))
}

// ObserveVerification records a verification confidence.
func ObserveVerification(confidence float64) {
	verificationConfidence.Observe(confidence)
}
