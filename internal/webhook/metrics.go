package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	deliverySuccessCounter    prometheus.Counter
	deliveryFailureCounter    prometheus.Counter
	redeliveryEnqueuedCounter prometheus.Counter
	verificationFailedCounter prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.deliverySuccessCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_webhook_delivery_success_count",
		Help: "The number of webhook payloads delivered to subscribers",
	})

	metrics.deliveryFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_webhook_delivery_failure_count",
		Help: "The number of webhook deliveries that exhausted their retries",
	})

	metrics.redeliveryEnqueuedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_webhook_redelivery_enqueued_count",
		Help: "The number of failed deliveries handed to the redelivery queue",
	})

	metrics.verificationFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_webhook_verification_failed_count",
		Help: "The number of inbound webhooks rejected for a bad signature",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)

// RecordVerificationFailure is called by the inbound boundary when a
// signature check rejects a payload.
func RecordVerificationFailure() {
	metrics.verificationFailedCounter.Inc()
}
