package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "netdemo"

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted into the queue.",
		},
		[]string{"demo"},
	)

	JobsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Total number of submissions rejected before queueing, labeled by reason.",
		},
		[]string{"reason"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal status.",
		},
		[]string{"demo", "status"},
	)

	JobExecutionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_execution_seconds",
			Help:      "Wall time from RUNNING to a terminal status (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"demo", "status"},
	)

	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Total number of demo executions, labeled by isolation mode.",
		},
		[]string{"demo", "mode"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsRejectedTotal,
		JobsFinishedTotal,
		JobExecutionSeconds,
		SandboxExecutionsTotal,
		RateLimitHitsTotal,
	)
}
