package detection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	probeDuration       *prometheus.HistogramVec
	probeOutcomeCounter *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "pos_connector_detection_probe_duration",
		Help: "The amount of time it takes to probe a vendor fingerprint",
	}, []string{"pos_type"})

	metrics.probeOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_detection_probe_outcome_count",
		Help: "The number of vendor fingerprint probes by outcome",
	}, []string{"pos_type", "outcome"})

	return metrics
}

var (
	metrics = NewMetrics()
)
