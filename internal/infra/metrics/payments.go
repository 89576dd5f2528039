package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Transactions reaching a terminal status, by gateway and status.",
		},
		[]string{"gateway", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total value of paid transactions in minor units, by gateway and plan.",
		},
		[]string{"gateway", "plan"},
	)
)

func IncPayment(gateway, status string) {
	paymentsTotal.WithLabelValues(norm(gateway), norm(status)).Inc()
}

func AddPaymentRevenue(gateway, plan string, amountMinor int64) {
	paymentsRevenueTotal.WithLabelValues(norm(gateway), norm(plan)).Add(float64(amountMinor))
}
