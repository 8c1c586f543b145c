package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/resilience"

	"github.com/sirupsen/logrus"
)

// JobPublisher hands exhausted deliveries to the external queue service for
// out-of-band redelivery. The queue's own retry policy takes over from there.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobType string, payload []byte, metadata map[string]string) error
}

type DeliveryOptions struct {
	Secret      string
	ContentType string
	Headers     map[string]string
}

type DeliveryResult struct {
	URL       string
	Delivered bool
	Attempts  int
	Error     error
}

// Dispatcher POSTs signed payloads to subscriber URLs. Delivery never
// blocks the triggering business event: each delivery runs in its own
// goroutine and reports through the returned channel.
type Dispatcher struct {
	client            *http.Client
	retryPolicy       *resilience.RetryPolicy
	publisher         JobPublisher
	redeliveryJobType string
}

func NewDispatcher(timeout time.Duration, retryPolicy *resilience.RetryPolicy, publisher JobPublisher) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		client:            &http.Client{Timeout: timeout},
		retryPolicy:       retryPolicy,
		publisher:         publisher,
		redeliveryJobType: "webhook_redelivery",
	}
}

// Deliver signs payload and posts it to url asynchronously. The caller may
// ignore the result channel entirely (fire-and-forget) or read the single
// DeliveryResult sent on it.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload []byte, options DeliveryOptions) <-chan DeliveryResult {
	results := make(chan DeliveryResult, 1)

	go func() {
		results <- d.deliver(ctx, url, payload, options)
		close(results)
	}()

	return results
}

func (d *Dispatcher) deliver(ctx context.Context, url string, payload []byte, options DeliveryOptions) DeliveryResult {
	log := logger.Log.WithFields(logrus.Fields{"url": url})

	attempts := 0

	err := d.retryPolicy.Run(ctx, func(ctx context.Context) error {
		attempts++
		return d.post(ctx, url, payload, options)
	}, resilience.DefaultClassifier)

	result := DeliveryResult{URL: url, Delivered: err == nil, Attempts: attempts, Error: err}

	if err == nil {
		metrics.deliverySuccessCounter.Inc()
		log.Debug("Webhook delivered")
		return result
	}

	metrics.deliveryFailureCounter.Inc()
	log.WithFields(logrus.Fields{"error": err, "attempts": attempts}).Warn("Webhook delivery failed")

	if d.publisher != nil {
		job := redeliveryJob{URL: url, Payload: payload, Secret: options.Secret, Headers: options.Headers}
		jobBytes, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			log.WithFields(logrus.Fields{"error": marshalErr}).Error("Unable to marshal redelivery job")
			return result
		}

		if pubErr := d.publisher.PublishJob(ctx, d.redeliveryJobType, jobBytes, map[string]string{"url": url}); pubErr != nil {
			log.WithFields(logrus.Fields{"error": pubErr}).Error("Unable to enqueue webhook redelivery job")
		} else {
			metrics.redeliveryEnqueuedCounter.Inc()
		}
	}

	return result
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte, options DeliveryOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	contentType := options.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SignatureHeader, Sign(payload, options.Secret))
	for k, v := range options.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &resilience.HTTPError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}

	return nil
}

type redeliveryJob struct {
	URL     string            `json:"url"`
	Payload []byte            `json:"payload"`
	Secret  string            `json:"secret"`
	Headers map[string]string `json:"headers,omitempty"`
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := time.ParseDuration(value + "s")
	if err != nil {
		return 0
	}
	return seconds
}
