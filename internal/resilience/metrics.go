package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	breakerTransitionCounter *prometheus.CounterVec
	retryAttemptCounter      *prometheus.CounterVec
	cacheHitCounter          *prometheus.CounterVec
	cacheMissCounter         *prometheus.CounterVec
	healthOutcomeCounter     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.breakerTransitionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_circuit_breaker_transition_count",
		Help: "The number of circuit breaker state transitions",
	}, []string{"breaker", "to_state"})

	metrics.retryAttemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_retry_attempt_count",
		Help: "The number of failed attempts observed by each retry policy",
	}, []string{"policy"})

	metrics.cacheHitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_response_cache_hit_count",
		Help: "The number of response cache hits",
	}, []string{"cache"})

	metrics.cacheMissCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_response_cache_miss_count",
		Help: "The number of response cache misses",
	}, []string{"cache"})

	metrics.healthOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_adapter_call_outcome_count",
		Help: "The number of adapter call outcomes recorded by the health monitor",
	}, []string{"adapter", "outcome"})

	return metrics
}

var (
	metrics = NewMetrics()
)
