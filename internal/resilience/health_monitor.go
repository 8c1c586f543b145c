package resilience

import (
	"sync"
	"time"
)

type outcomeSample struct {
	at      time.Time
	success bool
	latency time.Duration
}

type adapterRecord struct {
	samples      []outcomeSample
	breakerState BreakerState
}

// HealthMonitor keeps a rolling window of call outcomes per adapter and
// derives a health score in [0,1]. It is reporting only: nothing in here
// feeds back into breaker thresholds or retry behavior.
type HealthMonitor struct {
	window          time.Duration
	baselineLatency time.Duration
	nowFunc         func() time.Time

	mutex    sync.RWMutex
	adapters map[string]*adapterRecord
}

func NewHealthMonitor(window time.Duration, baselineLatency time.Duration) *HealthMonitor {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if baselineLatency <= 0 {
		baselineLatency = 500 * time.Millisecond
	}
	return &HealthMonitor{
		window:          window,
		baselineLatency: baselineLatency,
		nowFunc:         time.Now,
		adapters:        make(map[string]*adapterRecord),
	}
}

func (hm *HealthMonitor) RecordOutcome(adapterID string, success bool, latency time.Duration) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	record := hm.record(adapterID)
	record.samples = append(record.samples, outcomeSample{
		at:      hm.nowFunc(),
		success: success,
		latency: latency,
	})
	hm.prune(record)

	if success {
		metrics.healthOutcomeCounter.WithLabelValues(adapterID, "success").Inc()
	} else {
		metrics.healthOutcomeCounter.WithLabelValues(adapterID, "failure").Inc()
	}
}

// RecordBreakerStateChange satisfies the breaker observer contract so the
// monitor always knows the current breaker state.
func (hm *HealthMonitor) RecordBreakerStateChange(change BreakerStateChange) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.record(change.Name).breakerState = change.To
}

// HealthScore combines recent success rate, breaker state and latency
// relative to the baseline. An open breaker pins the score to zero no
// matter what the history says.
func (hm *HealthMonitor) HealthScore(adapterID string) float64 {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	record, exists := hm.adapters[adapterID]
	if !exists {
		return 1.0
	}

	if record.breakerState == BreakerOpen {
		return 0.0
	}

	hm.prune(record)

	if len(record.samples) == 0 {
		if record.breakerState == BreakerHalfOpen {
			return 0.5
		}
		return 1.0
	}

	successRate, avgLatency := summarize(record.samples)

	latencyFactor := 1.0
	if avgLatency > hm.baselineLatency {
		latencyFactor = float64(hm.baselineLatency) / float64(avgLatency)
	}

	score := successRate*0.7 + latencyFactor*0.3
	if record.breakerState == BreakerHalfOpen {
		score = score * 0.5
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (hm *HealthMonitor) SuccessRate(adapterID string) float64 {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	record, exists := hm.adapters[adapterID]
	if !exists || len(record.samples) == 0 {
		return 1.0
	}

	successRate, _ := summarize(record.samples)
	return successRate
}

func (hm *HealthMonitor) AverageLatency(adapterID string) time.Duration {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	record, exists := hm.adapters[adapterID]
	if !exists || len(record.samples) == 0 {
		return 0
	}

	_, avgLatency := summarize(record.samples)
	return avgLatency
}

// record must be called with the mutex held.
func (hm *HealthMonitor) record(adapterID string) *adapterRecord {
	record, exists := hm.adapters[adapterID]
	if !exists {
		record = &adapterRecord{breakerState: BreakerClosed}
		hm.adapters[adapterID] = record
	}
	return record
}

// prune must be called with the mutex held.
func (hm *HealthMonitor) prune(record *adapterRecord) {
	cutoff := hm.nowFunc().Add(-hm.window)
	firstFresh := 0
	for firstFresh < len(record.samples) && record.samples[firstFresh].at.Before(cutoff) {
		firstFresh++
	}
	if firstFresh > 0 {
		record.samples = record.samples[firstFresh:]
	}
}

func summarize(samples []outcomeSample) (successRate float64, avgLatency time.Duration) {
	successes := 0
	var totalLatency time.Duration
	for _, s := range samples {
		if s.success {
			successes++
		}
		totalLatency += s.latency
	}
	successRate = float64(successes) / float64(len(samples))
	avgLatency = totalLatency / time.Duration(len(samples))
	return successRate, avgLatency
}
