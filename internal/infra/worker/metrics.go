// Package worker holds the process-level pieces of the pipeline worker:
// its configuration, the periodic job metrics and the ops HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notify-pipeline/internal/pkg/config"
)

// WorkerMetrics tracks the periodic jobs the worker runs on the scheduling
// engine (compensation, schedule monitor, cache sweep) and configuration
// fallbacks.
type WorkerMetrics struct {
	*config.ConfigMetrics

	// JobRunsTotal counts runs by job and status (success, failure).
	JobRunsTotal *prometheus.CounterVec

	JobDurationSeconds *prometheus.HistogramVec

	// JobLastSuccessTimestamp is the Unix time of the last successful run.
	JobLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics registers the metrics with the default registry.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWith registers the metrics with reg.
func NewWorkerMetricsWith(reg prometheus.Registerer) *WorkerMetrics {
	f := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith(reg, "worker"),

		JobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_job_runs_total",
			Help: "Periodic job runs by job and status",
		}, []string{"job", "status"}),

		JobDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of periodic job runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300},
		}, []string{"job"}),

		JobLastSuccessTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful run of each periodic job",
		}, []string{"job"}),
	}
}

// Track runs fn as job and records its outcome.
func (m *WorkerMetrics) Track(ctx context.Context, job string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	m.JobDurationSeconds.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err != nil {
		m.JobRunsTotal.WithLabelValues(job, "failure").Inc()
		return err
	}
	m.JobRunsTotal.WithLabelValues(job, "success").Inc()
	m.JobLastSuccessTimestamp.WithLabelValues(job).SetToCurrentTime()
	return nil
}
