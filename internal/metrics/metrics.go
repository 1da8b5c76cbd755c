// Package metrics collects and exposes Prometheus metrics for the control
// plane and the worker pool: task throughput, latency, queue depth, and
// dispatch/reclaim counts.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this system exposes.
type Collector struct {
	tasksCreated   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksCancelled prometheus.Counter
	dispatchErrors prometheus.Counter
	reclaimTotal   prometheus.Counter

	taskLatency prometheus.Histogram

	tasksPending    prometheus.Gauge
	tasksProcessing prometheus.Gauge
}

// NewCollector builds and registers every metric against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_tasks_created_total",
			Help: "Total number of tasks created",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_tasks_failed_total",
			Help: "Total number of tasks that failed or timed out",
		}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_tasks_cancelled_total",
			Help: "Total number of tasks cancelled",
		}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_dispatch_errors_total",
			Help: "Total number of transport errors encountered by the dispatch loop",
		}),
		reclaimTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_reclaim_total",
			Help: "Total number of stream entries reclaimed from idle consumers",
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobrunner_task_latency_seconds",
			Help:    "Task processing latency in seconds, from claim to finalize",
			Buckets: prometheus.DefBuckets,
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobrunner_tasks_pending",
			Help: "Current number of pending stream entries",
		}),
		tasksProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobrunner_tasks_processing",
			Help: "Current number of tasks being processed",
		}),
	}

	prometheus.MustRegister(
		c.tasksCreated,
		c.tasksCompleted,
		c.tasksFailed,
		c.tasksCancelled,
		c.dispatchErrors,
		c.reclaimTotal,
		c.taskLatency,
		c.tasksPending,
		c.tasksProcessing,
	)

	return c
}

// RecordCreated records a task admitted by the control plane.
func (c *Collector) RecordCreated() {
	c.tasksCreated.Inc()
}

// RecordCompleted records a successful finalize, with the time from claim
// to finalize.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.tasksCompleted.Inc()
	c.taskLatency.Observe(latencySeconds)
}

// RecordFailed records a task that finalized as Failed (including timeout).
func (c *Collector) RecordFailed() {
	c.tasksFailed.Inc()
}

// RecordCancelled records a task cancelled by a user.
func (c *Collector) RecordCancelled() {
	c.tasksCancelled.Inc()
}

// RecordDispatchError records a transport-level error in the dispatch loop.
func (c *Collector) RecordDispatchError() {
	c.dispatchErrors.Inc()
}

// RecordReclaim records a stream entry recovered from an idle consumer.
func (c *Collector) RecordReclaim() {
	c.reclaimTotal.Inc()
}

// UpdateQueueStats sets the current pending/processing gauges.
func (c *Collector) UpdateQueueStats(pending, processing int64) {
	c.tasksPending.Set(float64(pending))
	c.tasksProcessing.Set(float64(processing))
}

// StartServer serves /metrics on port until the process exits or the
// server errors.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
