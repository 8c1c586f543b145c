package onboarding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	sessionStartedCounter   prometheus.Counter
	sessionCompletedCounter prometheus.Counter
	sessionFailedCounter    *prometheus.CounterVec
	stepCompletedCounter    *prometheus.CounterVec
	sessionSweptCounter     prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.sessionStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_onboarding_session_started_count",
		Help: "The number of onboarding sessions started",
	})

	metrics.sessionCompletedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_onboarding_session_completed_count",
		Help: "The number of onboarding sessions that completed successfully",
	})

	metrics.sessionFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_onboarding_session_failed_count",
		Help: "The number of onboarding sessions that failed, by reason",
	}, []string{"reason"})

	metrics.stepCompletedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connector_onboarding_step_completed_count",
		Help: "The number of onboarding steps completed, by step",
	}, []string{"step"})

	metrics.sessionSweptCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_connector_onboarding_session_swept_count",
		Help: "The number of expired onboarding sessions removed by the sweeper",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
