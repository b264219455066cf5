package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total number of shard jobs enqueued",
		},
		[]string{"backend", "status"}, // status: ok|full|closed|error
	)

	jobsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_handled_total",
			Help: "Total number of shard jobs handled",
		},
		[]string{"backend", "status"}, // status: success|retry|dropped|panic
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Shard job handling duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"backend"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_in_flight",
			Help: "Number of shard jobs currently being handled",
		},
		[]string{"backend"},
	)
)

func recordEnqueue(backend, status string) {
	jobsEnqueuedTotal.WithLabelValues(backend, status).Inc()
}

func recordHandled(backend, status string, d time.Duration) {
	jobsHandledTotal.WithLabelValues(backend, status).Inc()
	jobDuration.WithLabelValues(backend).Observe(d.Seconds())
}
