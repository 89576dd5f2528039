package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequestsTotal,
		gatewayRequestLatency,
		gatewayTokenRefreshTotal,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound provider API calls by gateway, operation and HTTP status.",
		},
		[]string{"gateway", "op", "code"},
	)

	gatewayRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_latency_ms",
			Help:    "Outbound provider API latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"gateway", "op"},
	)

	// reason: expiry|forced
	gatewayTokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_refresh_total",
			Help: "Auth token refreshes by gateway and trigger.",
		},
		[]string{"gateway", "reason"},
	)
)

func ObserveGatewayCall(gateway, op string, httpStatus int, latencyMs float64) {
	code := strconv.Itoa(httpStatus)
	gatewayRequestsTotal.WithLabelValues(norm(gateway), norm(op), code).Inc()
	gatewayRequestLatency.WithLabelValues(norm(gateway), norm(op)).Observe(latencyMs)
}

func IncTokenRefresh(gateway, reason string) {
	gatewayTokenRefreshTotal.WithLabelValues(norm(gateway), norm(reason)).Inc()
}
