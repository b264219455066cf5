package compensation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compensation_sweeps_total",
			Help: "Compensation sweeps run",
		},
		[]string{"status"}, // success|error
	)

	retriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compensation_rows_retried_total",
			Help: "Delivery log rows re-driven by compensation",
		},
	)

	exhaustedRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compensation_rows_exhausted",
			Help: "Rows created today that reached the retry limit without success",
		},
	)
)
