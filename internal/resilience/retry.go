package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// HTTPError carries enough of a vendor response for the classifier to
// decide whether another attempt could possibly succeed.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Classifier reports whether the error is worth another attempt.
type Classifier func(error) bool

// DefaultClassifier treats timeouts, 5xx responses and rate-limit
// responses as retryable. Everything else (auth failures, validation
// errors) propagates immediately.
func DefaultClassifier(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			return true
		}
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// RetryPolicy re-invokes an operation on retryable failures with capped
// exponential backoff and jitter. Sleeps suspend only the calling
// goroutine and honor context cancellation.
type RetryPolicy struct {
	name        string
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	maxDelay    time.Duration
	jitterFunc  func(time.Duration) time.Duration
}

func NewRetryPolicy(name string, maxAttempts int, baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if multiplier < 1 {
		multiplier = 2
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &RetryPolicy{
		name:        name,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		multiplier:  multiplier,
		maxDelay:    maxDelay,
		jitterFunc:  defaultJitter,
	}
}

func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Run invokes operation up to maxAttempts times. A non-retryable error
// consumes exactly one attempt and surfaces immediately. The retried call
// is one logical call: the caller counts it once against a circuit
// breaker, never once per attempt.
func (p *RetryPolicy) Run(ctx context.Context, operation func(context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = DefaultClassifier
	}

	var err error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = operation(ctx)
		if err == nil {
			return nil
		}

		metrics.retryAttemptCounter.WithLabelValues(p.name).Inc()

		if !classify(err) {
			return err
		}

		if attempt == p.maxAttempts {
			break
		}

		if sleepErr := p.sleep(ctx, p.delayFor(attempt, err)); sleepErr != nil {
			return sleepErr
		}
	}

	return err
}

func (p *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := time.Duration(float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1)))
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return p.jitterFunc(delay)
}

func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter spreads the delay over [d/2, d) to avoid thundering herds.
func defaultJitter(d time.Duration) time.Duration {
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}
