package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway API calls",
		},
		[]string{"app", "op", "status"}, // status: success|failure|circuit_open
	)

	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Gateway API call duration in seconds, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	gatewayRateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the per-app token bucket",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"app"},
	)

	gatewayTokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_refresh_total",
			Help: "Total number of access token fetches",
		},
		[]string{"app", "status"},
	)
)

func recordCall(appID, op, status string, d time.Duration) {
	gatewayRequestsTotal.WithLabelValues(appID, op, status).Inc()
	gatewayRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
