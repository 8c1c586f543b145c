package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	jobPublishSuccessCounter prometheus.Counter
	jobPublishFailureCounter prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.jobPublishSuccessCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_job_publish_success_count",
		Help: "The number of jobs handed to the queue service",
	})

	metrics.jobPublishFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_job_publish_failure_count",
		Help: "The number of jobs that failed to be handed to the queue service",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
