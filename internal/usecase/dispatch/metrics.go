package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of dispatch requests",
		},
		[]string{"status"}, // success|invalid|error
	)

	dispatchRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_recipients_total",
			Help: "Recipients processed by dispatch, by outcome",
		},
		[]string{"outcome"}, // created|suppressed
	)

	dispatchShardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_shards_total",
			Help: "Shards handed to the queue",
		},
		[]string{"status"}, // enqueued|enqueue_failed
	)

	shardDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_shard_deliveries_total",
			Help: "Delivery log rows written back by shard workers",
		},
		[]string{"status"}, // success|failure|skipped
	)

	shardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_shard_duration_seconds",
			Help:    "Time to handle one shard, including the gateway call",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	dedupLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_lookups_total",
			Help: "Dedup cache lookups, by namespace and result",
		},
		[]string{"namespace", "result"}, // hit|miss
	)

	dedupErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_errors_total",
			Help: "Dedup cache backend errors treated as misses",
		},
		[]string{"namespace", "op"},
	)
)

func recordDispatch(status string) {
	dispatchTotal.WithLabelValues(status).Inc()
}

func recordRecipients(created, suppressed int) {
	dispatchRecipientsTotal.WithLabelValues("created").Add(float64(created))
	dispatchRecipientsTotal.WithLabelValues("suppressed").Add(float64(suppressed))
}

func recordShard(status string) {
	dispatchShardsTotal.WithLabelValues(status).Inc()
}

func recordShardDeliveries(status string, n int) {
	shardDeliveriesTotal.WithLabelValues(status).Add(float64(n))
}

func recordShardDuration(d time.Duration) {
	shardDuration.Observe(d.Seconds())
}
