package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	operationDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "pos_connector_adapter_operation_duration",
		Help: "The amount of time each enhanced adapter operation took",
	}, []string{"operation"})

	return metrics
}

var (
	metrics = NewMetrics()
)
