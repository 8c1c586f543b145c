package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned for every call issued while the breaker is
// refusing traffic. Callers should back off and retry later.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerStateChange is handed to the observer on every transition.
type BreakerStateChange struct {
	Name                string
	From                BreakerState
	To                  BreakerState
	ConsecutiveFailures int
	At                  time.Time
}

type BreakerObserver func(BreakerStateChange)

// CircuitBreaker isolates a single adapter instance from a failing
// dependency. One breaker per adapter instance; the zero value is not
// usable, construct with NewCircuitBreaker.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	observer         BreakerObserver
	nowFunc          func() time.Time

	mutex               sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	lastStateChange     time.Time
	probeInFlight       bool
}

func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration, observer BreakerObserver) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		observer:         observer,
		nowFunc:          time.Now,
		state:            BreakerClosed,
		lastStateChange:  time.Now(),
	}
}

// Execute runs operation if the breaker permits it, otherwise fails fast
// with ErrCircuitOpen without invoking operation.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(context.Context) error) error {
	change, err := cb.allow()
	cb.notify(change)
	if err != nil {
		return err
	}

	err = operation(ctx)
	cb.notify(cb.record(err == nil))
	return err
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.consecutiveFailures
}

func (cb *CircuitBreaker) allow() (*BreakerStateChange, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil, nil
	case BreakerOpen:
		if cb.nowFunc().Sub(cb.lastStateChange) < cb.cooldown {
			return nil, ErrCircuitOpen
		}
		change := cb.transition(BreakerHalfOpen)
		cb.probeInFlight = true
		return change, nil
	case BreakerHalfOpen:
		// only one probe call is allowed through
		if cb.probeInFlight {
			return nil, ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil, nil
	}

	return nil, nil
}

func (cb *CircuitBreaker) record(success bool) *BreakerStateChange {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case BreakerClosed:
		if success {
			cb.consecutiveFailures = 0
			return nil
		}
		cb.consecutiveFailures++
		cb.lastFailureTime = cb.nowFunc()
		if cb.consecutiveFailures >= cb.failureThreshold {
			return cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.probeInFlight = false
		if success {
			cb.consecutiveFailures = 0
			return cb.transition(BreakerClosed)
		}
		cb.lastFailureTime = cb.nowFunc()
		return cb.transition(BreakerOpen)
	case BreakerOpen:
		// A call dispatched before the breaker opened finished late.
		// Its outcome does not change the open state.
	}

	return nil
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to BreakerState) *BreakerStateChange {
	from := cb.state
	if from == to {
		return nil
	}

	cb.state = to
	cb.lastStateChange = cb.nowFunc()

	metrics.breakerTransitionCounter.WithLabelValues(cb.name, to.String()).Inc()

	logger.Log.WithFields(logrus.Fields{
		"breaker": cb.name,
		"from":    from.String(),
		"to":      to.String(),
	}).Info("Circuit breaker state change")

	return &BreakerStateChange{
		Name:                cb.name,
		From:                from,
		To:                  to,
		ConsecutiveFailures: cb.consecutiveFailures,
		At:                  cb.lastStateChange,
	}
}

// notify runs the observer outside of the breaker mutex so an observer can
// read breaker state without deadlocking.
func (cb *CircuitBreaker) notify(change *BreakerStateChange) {
	if change == nil || cb.observer == nil {
		return
	}
	cb.observer(*change)
}
