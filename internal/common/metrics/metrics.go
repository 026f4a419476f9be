// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_sync_cycles_total",
			Help: "Sync cycles by outcome (unchanged, applied, failed, rate_limited, backoff, not_ready)",
		},
		[]string{"result"},
	)

	SyncWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_sync_writes_total",
			Help: "Rows written by the sync engine",
		},
		[]string{"op"},
	)

	SyncBackoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admissions_sync_backoff_seconds",
			Help: "Current rate limit backoff delay, zero when not limited",
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_transitions_total",
			Help: "Application transitions by action and result",
		},
		[]string{"action", "result"},
	)

	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_compensations_total",
			Help: "Compensating rollbacks by action and result",
		},
		[]string{"action", "result"},
	)

	CacheRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admissions_cache_records",
			Help: "Cached application records per status",
		},
		[]string{"status"},
	)

	CacheReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_cache_reloads_total",
			Help: "Cache reloads by trigger",
		},
		[]string{"trigger"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_notifications_total",
			Help: "Decision notifications by channel and result",
		},
		[]string{"channel", "result"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
