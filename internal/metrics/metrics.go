package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobstream_tasks_enqueued_total",
			Help: "Total number of tasks recorded by the work queue",
		},
		[]string{"queue", "func"},
	)

	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobstream_tasks_processed_total",
			Help: "Total number of tasks executed by workers",
		},
		[]string{"queue", "func", "status"}, // finished, failed, retried
	)

	DependentsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobstream_dependents_failed_total",
			Help: "Total number of deferred tasks failed because a dependency failed",
		},
	)

	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobstream_progress_events_total",
			Help: "Total number of progress events appended by tasks",
		},
		[]string{"func"},
	)

	// Gauges
	RunningTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobstream_running_tasks",
			Help: "Current number of tasks being executed",
		},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobstream_stream_subscribers",
			Help: "Current number of connected progress stream clients",
		},
	)

	// 10ms to ~163s
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobstream_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"queue", "func"},
	)
)
