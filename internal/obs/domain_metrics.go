package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentProcessTotal counts synchronous process outcomes by provider and
	// result (success or canonical error type).
	PaymentProcessTotal *prometheus.CounterVec
	// PaymentProcessDuration records process latency in milliseconds.
	PaymentProcessDuration *prometheus.HistogramVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific
// Prometheus collectors. Safe to call more than once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"provider", "result"})
		PaymentProcessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_process_total",
			Help:      "Count of payment processing outcomes.",
		}, []string{"provider", "result"})
		PaymentProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_process_duration_ms",
			Help:      "Latency of payment processing attempts in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 3500, 5000, 10000},
		}, []string{"provider"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})

		reg.MustRegister(PaymentIntentTotal, PaymentProcessTotal, PaymentProcessDuration, PaymentWebhookTotal)
	})
}
