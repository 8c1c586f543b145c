package configstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	sqlUpsertConfigurationDuration prometheus.Histogram
	sqlLookupConfigurationDuration prometheus.Histogram
	sqlDeleteConfigurationDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.sqlUpsertConfigurationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pos_connector_sql_upsert_configuration_duration",
		Help: "The amount of time it takes to save an adapter configuration in the db",
	})

	metrics.sqlLookupConfigurationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pos_connector_sql_lookup_configuration_duration",
		Help: "The amount of time it takes to look up an adapter configuration in the db",
	})

	metrics.sqlDeleteConfigurationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pos_connector_sql_delete_configuration_duration",
		Help: "The amount of time it takes to soft delete an adapter configuration in the db",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
