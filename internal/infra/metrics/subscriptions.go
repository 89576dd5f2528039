package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsGrantedTotal,
		subscriptionsRevokedTotal,
		subscriptionsExpiredTotal,
	)
}

var (
	subscriptionsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_granted_total",
			Help: "Entitlement grants by plan and source.",
		},
		[]string{"plan", "source"},
	)

	subscriptionsRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_revoked_total",
			Help: "Entitlement revocations (refunds, admin action).",
		},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Subscriptions reset to free by the expiry worker.",
		},
	)
)

func IncSubscriptionGranted(plan, source string) {
	subscriptionsGrantedTotal.WithLabelValues(norm(plan), norm(source)).Inc()
}

func IncSubscriptionRevoked() {
	subscriptionsRevokedTotal.Inc()
}

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}
