package adapter

import (
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// LogAnalyticsRecorder writes operation events to the structured log. The
// downstream analytics pipeline tails these records.
type LogAnalyticsRecorder struct {
}

func NewLogAnalyticsRecorder() *LogAnalyticsRecorder {
	return &LogAnalyticsRecorder{}
}

func (r *LogAnalyticsRecorder) RecordOperation(event OperationEvent) {
	logger.Log.WithFields(logrus.Fields{
		"adapter_id":  event.AdapterID,
		"business_id": event.BusinessID,
		"pos_type":    event.POSType,
		"operation":   event.OperationName,
		"success":     event.Success,
		"cache_hit":   event.CacheHit,
		"latency_ms":  event.Latency.Milliseconds(),
	}).Debug("adapter operation")
}
