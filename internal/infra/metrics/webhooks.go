package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookSignatureFailures,
		webhookDuration,
	)
}

var (
	// outcome: applied|duplicate|transient|not_found|invalid|signature|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound gateway callbacks by gateway and processing outcome.",
		},
		[]string{"gateway", "outcome"},
	)

	webhookSignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Callbacks rejected for a bad signature, by gateway.",
		},
		[]string{"gateway"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Duration of webhook handling in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"gateway"},
	)
)

func IncWebhookEvent(gateway, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func IncWebhookSignatureFailure(gateway string) {
	webhookSignatureFailures.WithLabelValues(norm(gateway)).Inc()
}

func ObserveWebhookDuration(gateway string, seconds float64) {
	webhookDuration.WithLabelValues(norm(gateway)).Observe(seconds)
}
