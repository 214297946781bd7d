package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes. OutcomeInvalid marks requests refused locally before any
// scheduler call.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnreachable = "unreachable"
	OutcomeInvalid     = "invalid"
)

var (
	SchedulerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_scheduler_calls_total",
			Help: "Total number of scheduler API calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	SchedulerCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipewright_scheduler_call_duration_seconds",
			Help:    "Duration of scheduler API calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	WorkflowTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_workflow_triggers_total",
			Help: "Total number of workflow triggers by caller and outcome.",
		},
		[]string{"triggered_by", "outcome"},
	)

	JobRunTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_job_run_transitions_total",
			Help: "Total number of job run status changes observed by status.",
		},
		[]string{"status"},
	)

	JobRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipewright_job_run_duration_seconds",
			Help:    "Duration of finished job runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	UnpauseBatchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_unpause_batch_results_total",
			Help: "Total number of per-workflow results from batch unpause.",
		},
		[]string{"outcome"},
	)

	DefinitionSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_definition_sync_total",
			Help: "Total number of workflow definitions seen by git sync by result.",
		},
		[]string{"source", "result"},
	)
)

// Register registers all custom pipewright metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		SchedulerCallsTotal,
		SchedulerCallDurationSeconds,
		WorkflowTriggersTotal,
		JobRunTransitionsTotal,
		JobRunDurationSeconds,
		UnpauseBatchResultsTotal,
		DefinitionSyncTotal,
	)
}
