package jobs

import (
	"context"
	"encoding/json"

	"github.com/tax-connect/pos-connector/internal/platform/logger"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Job is the envelope accepted by the external queue service.
type Job struct {
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KafkaWriter is the narrow slice of kafka.Writer the publisher needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher hands jobs to the queue service. Retry/backoff for
// delivered jobs is the queue's responsibility, not ours.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishJob(ctx context.Context, jobType string, payload []byte, metadata map[string]string) error {
	job := Job{Type: jobType, Payload: payload, Metadata: metadata}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "job_type": jobType}).Error("Unable to marshal job")
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(jobType),
		Value: jobBytes,
	})
	if err != nil {
		metrics.jobPublishFailureCounter.Inc()
		logger.Log.WithFields(logrus.Fields{"error": err, "job_type": jobType}).Error("Unable to publish job")
		return err
	}

	metrics.jobPublishSuccessCounter.Inc()
	return nil
}
