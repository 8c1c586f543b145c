package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/resilience"
	"github.com/tax-connect/pos-connector/internal/webhook"

	"github.com/sirupsen/logrus"
)

// Defaults are the resilience settings applied when an
// AdapterConfiguration carries no overrides.
type Defaults struct {
	FailureThreshold int
	Cooldown         time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	CacheMaxEntries  int
	CacheDefaultTTL  time.Duration
}

// BaseAdapter composes the circuit breaker, retry policy, response cache
// and health monitor around a vendor's operations. Every outbound call
// goes through executeWithEnhancements; nothing talks to the vendor
// directly.
type BaseAdapter struct {
	id         string
	config     domain.AdapterConfiguration
	descriptor *VendorDescriptor
	ops        VendorOperations

	breaker   *resilience.CircuitBreaker
	retry     *resilience.RetryPolicy
	cache     *resilience.ResponseCache
	health    *resilience.HealthMonitor
	analytics AnalyticsRecorder

	cacheTTL time.Duration
	nowFunc  func() time.Time
}

// NewBaseAdapter builds an adapter instance with its own breaker and cache.
// Instances are per tenant: resilience state is never shared across
// businesses.
func NewBaseAdapter(config domain.AdapterConfiguration, descriptor *VendorDescriptor, ops VendorOperations, health *resilience.HealthMonitor, analytics AnalyticsRecorder, defaults Defaults) *BaseAdapter {

	adapterID := config.ID

	failureThreshold := defaults.FailureThreshold
	cooldown := defaults.Cooldown
	if config.CircuitBreakerOptions != nil {
		failureThreshold = config.CircuitBreakerOptions.FailureThreshold
		cooldown = config.CircuitBreakerOptions.Cooldown
	}

	retryMaxAttempts := defaults.RetryMaxAttempts
	retryBaseDelay := defaults.RetryBaseDelay
	retryMaxDelay := defaults.RetryMaxDelay
	retryMultiplier := 2.0
	if config.RetryOptions != nil {
		retryMaxAttempts = config.RetryOptions.MaxAttempts
		retryBaseDelay = config.RetryOptions.BaseDelay
		retryMaxDelay = config.RetryOptions.MaxDelay
		if config.RetryOptions.Multiplier > 0 {
			retryMultiplier = config.RetryOptions.Multiplier
		}
	}

	cacheMaxEntries := defaults.CacheMaxEntries
	cacheTTL := defaults.CacheDefaultTTL
	if config.CacheOptions != nil {
		cacheMaxEntries = config.CacheOptions.MaxEntries
		cacheTTL = config.CacheOptions.DefaultTTL
	}

	var observer resilience.BreakerObserver
	if health != nil {
		observer = health.RecordBreakerStateChange
	}

	return &BaseAdapter{
		id:         adapterID,
		config:     config,
		descriptor: descriptor,
		ops:        ops,
		breaker:    resilience.NewCircuitBreaker(adapterID, failureThreshold, cooldown, observer),
		retry:      resilience.NewRetryPolicy(adapterID, retryMaxAttempts, retryBaseDelay, retryMultiplier, retryMaxDelay),
		cache:      resilience.NewResponseCache(adapterID, cacheMaxEntries, cacheTTL),
		health:     health,
		analytics:  analytics,
		cacheTTL:   cacheTTL,
		nowFunc:    time.Now,
	}
}

func (ba *BaseAdapter) ID() string {
	return ba.id
}

func (ba *BaseAdapter) POSType() domain.POSType {
	return ba.config.POSType
}

func (ba *BaseAdapter) SyncTransactions(ctx context.Context, lastSyncTime *time.Time) domain.SyncResult {
	return ba.runSync(ctx, "syncTransactions", lastSyncTime, ba.ops.DoSyncTransactions)
}

func (ba *BaseAdapter) SyncProducts(ctx context.Context, lastSyncTime *time.Time) domain.SyncResult {
	return ba.runSync(ctx, "syncProducts", lastSyncTime, ba.ops.DoSyncProducts)
}

func (ba *BaseAdapter) SyncCustomers(ctx context.Context, lastSyncTime *time.Time) domain.SyncResult {
	return ba.runSync(ctx, "syncCustomers", lastSyncTime, ba.ops.DoSyncCustomers)
}

type syncHook func(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error)

// runSync maps infrastructure failures (circuit open, exhausted retries)
// onto a failed SyncResult so job processors can branch without
// special-casing internals.
func (ba *BaseAdapter) runSync(ctx context.Context, operationName string, lastSyncTime *time.Time, hook syncHook) domain.SyncResult {
	value, err := ba.executeWithEnhancements(ctx, operationName, func(ctx context.Context) (interface{}, error) {
		return hook(ctx, ba.config.Credentials, lastSyncTime)
	}, enhancementOptions{})

	if err != nil {
		return domain.SyncResult{
			Success:      false,
			Errors:       []string{syncErrorMessage(err)},
			LastSyncTime: ba.nowFunc(),
		}
	}

	return value.(domain.SyncResult)
}

// CalculateTax is an idempotent read: identical requests within the TTL
// are served from the response cache without touching the vendor.
func (ba *BaseAdapter) CalculateTax(ctx context.Context, request domain.TaxCalculationRequest) (domain.TaxCalculationResult, error) {
	cacheKey, err := resilience.CanonicalCacheKey("calculateTax", request)
	if err != nil {
		return domain.TaxCalculationResult{}, err
	}

	value, err := ba.executeWithEnhancements(ctx, "calculateTax", func(ctx context.Context) (interface{}, error) {
		return ba.ops.DoCalculateTax(ctx, ba.config.Credentials, request)
	}, enhancementOptions{useCache: true, cacheKey: cacheKey, cacheTTL: ba.cacheTTL})

	if err != nil {
		return domain.TaxCalculationResult{}, err
	}

	return value.(domain.TaxCalculationResult), nil
}

// UpdateTransaction is a mutating call: never cached, always guarded by
// the breaker and retry policy.
func (ba *BaseAdapter) UpdateTransaction(ctx context.Context, request domain.TransactionUpdateRequest) bool {
	_, err := ba.executeWithEnhancements(ctx, "updateTransaction", func(ctx context.Context) (interface{}, error) {
		return nil, ba.ops.DoUpdateTransaction(ctx, ba.config.Credentials, request)
	}, enhancementOptions{})

	return err == nil
}

// HandleWebhook verifies the signature over the raw payload bytes before
// any business logic runs. A forged event is dropped at this boundary and
// reported only through metrics.
func (ba *BaseAdapter) HandleWebhook(ctx context.Context, payload []byte, signature string) bool {
	if !webhook.Verify(payload, signature, ba.config.WebhookSecret) {
		webhook.RecordVerificationFailure()
		logger.Log.WithFields(logrus.Fields{"adapter_id": ba.id}).Warn("Rejected webhook with an unverifiable signature")
		return false
	}

	_, err := ba.executeWithEnhancements(ctx, "handleWebhook", func(ctx context.Context) (interface{}, error) {
		return nil, ba.ops.ProcessWebhookEvent(ctx, payload)
	}, enhancementOptions{})

	return err == nil
}

func (ba *BaseAdapter) TestConnection(ctx context.Context) error {
	_, err := ba.executeWithEnhancements(ctx, "testConnection", func(ctx context.Context) (interface{}, error) {
		return nil, ba.ops.ValidateConnection(ctx, ba.config.Credentials)
	}, enhancementOptions{})
	return err
}

func (ba *BaseAdapter) FetchLocations(ctx context.Context) ([]domain.Location, error) {
	value, err := ba.executeWithEnhancements(ctx, "fetchLocations", func(ctx context.Context) (interface{}, error) {
		return ba.ops.FetchLocations(ctx, ba.config.Credentials)
	}, enhancementOptions{})
	if err != nil {
		return nil, err
	}
	return value.([]domain.Location), nil
}

func (ba *BaseAdapter) SetupWebhooks(ctx context.Context, callbackURL string) error {
	_, err := ba.executeWithEnhancements(ctx, "setupWebhooks", func(ctx context.Context) (interface{}, error) {
		return nil, ba.ops.RegisterWebhooks(ctx, ba.config.Credentials, callbackURL)
	}, enhancementOptions{})
	return err
}

func (ba *BaseAdapter) GetHealthMetrics() domain.AdapterHealth {
	health := domain.AdapterHealth{
		AdapterID:    ba.id,
		BreakerState: ba.breaker.State().String(),
		CacheStats:   ba.cache.Stats(),
	}

	if ba.health != nil {
		health.HealthScore = ba.health.HealthScore(ba.id)
		health.SuccessRate = ba.health.SuccessRate(ba.id)
		health.AvgLatencyMs = float64(ba.health.AverageLatency(ba.id)) / float64(time.Millisecond)
	}

	return health
}

type enhancementOptions struct {
	useCache bool
	cacheKey string
	cacheTTL time.Duration
}

// executeWithEnhancements is the single choke point for outbound calls:
// optional cache lookup, then circuit breaker, then retry policy, with the
// outcome recorded to the health monitor and the analytics log no matter
// how the call went.
func (ba *BaseAdapter) executeWithEnhancements(ctx context.Context, operationName string, fn func(context.Context) (interface{}, error), opts enhancementOptions) (interface{}, error) {

	if opts.useCache {
		cacheHit := true
		value, err := ba.cache.GetOrCompute(ctx, opts.cacheKey, opts.cacheTTL, func(ctx context.Context) (interface{}, error) {
			cacheHit = false
			return ba.executeGuarded(ctx, operationName, fn)
		})
		if cacheHit && err == nil {
			ba.recordAnalytics(operationName, true, true, 0, nil)
		}
		return value, err
	}

	return ba.executeGuarded(ctx, operationName, fn)
}

// executeGuarded wraps fn with the breaker and the retry policy. The
// retries inside one logical call count once against the breaker.
func (ba *BaseAdapter) executeGuarded(ctx context.Context, operationName string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	start := ba.nowFunc()

	var value interface{}

	err := ba.breaker.Execute(ctx, func(ctx context.Context) error {
		return ba.retry.Run(ctx, func(ctx context.Context) error {
			v, opErr := fn(ctx)
			if opErr == nil {
				value = v
			}
			return opErr
		}, resilience.DefaultClassifier)
	})

	latency := ba.nowFunc().Sub(start)

	if ba.health != nil {
		ba.health.RecordOutcome(ba.id, err == nil, latency)
	}
	ba.recordAnalytics(operationName, err == nil, false, latency, err)

	metrics.operationDuration.WithLabelValues(operationName).Observe(latency.Seconds())

	return value, err
}

func (ba *BaseAdapter) recordAnalytics(operationName string, success bool, cacheHit bool, latency time.Duration, err error) {
	if ba.analytics == nil {
		return
	}

	event := OperationEvent{
		AdapterID:     ba.id,
		BusinessID:    string(ba.config.BusinessID),
		POSType:       string(ba.config.POSType),
		OperationName: operationName,
		Success:       success,
		CacheHit:      cacheHit,
		Latency:       latency,
		At:            ba.nowFunc(),
	}
	if err != nil {
		event.Error = err.Error()
	}

	ba.analytics.RecordOperation(event)
}

func syncErrorMessage(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "circuit breaker is open"
	}
	return err.Error()
}
