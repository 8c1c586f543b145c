package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/resilience"
	"github.com/tax-connect/pos-connector/internal/webhook"
)

func init() {
	logger.InitLogger()
}

var errVendorDown = errors.New("vendor api unavailable")

type mockVendorOps struct {
	mutex sync.Mutex

	callCount    map[string]int
	failWith     error
	syncResult   domain.SyncResult
	taxResult    domain.TaxCalculationResult
	locations    []domain.Location
	webhookError error
}

func newMockVendorOps() *mockVendorOps {
	return &mockVendorOps{
		callCount: make(map[string]int),
		syncResult: domain.SyncResult{
			Success:          true,
			RecordsProcessed: 10,
			RecordsCreated:   10,
			LastSyncTime:     time.Now(),
		},
		taxResult: domain.TaxCalculationResult{TotalTax: 4.2, TaxableValue: 42.0},
	}
}

func (m *mockVendorOps) called(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callCount[name]++
	return m.callCount[name]
}

func (m *mockVendorOps) calls(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.callCount[name]
}

func (m *mockVendorOps) totalCalls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	total := 0
	for _, count := range m.callCount {
		total += count
	}
	return total
}

func (m *mockVendorOps) DoSyncTransactions(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	m.called("syncTransactions")
	if m.failWith != nil {
		return domain.SyncResult{}, m.failWith
	}
	return m.syncResult, nil
}

func (m *mockVendorOps) DoSyncProducts(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	m.called("syncProducts")
	if m.failWith != nil {
		return domain.SyncResult{}, m.failWith
	}
	return m.syncResult, nil
}

func (m *mockVendorOps) DoSyncCustomers(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	m.called("syncCustomers")
	if m.failWith != nil {
		return domain.SyncResult{}, m.failWith
	}
	return m.syncResult, nil
}

func (m *mockVendorOps) DoCalculateTax(ctx context.Context, creds domain.AuthCredentials, request domain.TaxCalculationRequest) (domain.TaxCalculationResult, error) {
	m.called("calculateTax")
	if m.failWith != nil {
		return domain.TaxCalculationResult{}, m.failWith
	}
	return m.taxResult, nil
}

func (m *mockVendorOps) DoUpdateTransaction(ctx context.Context, creds domain.AuthCredentials, request domain.TransactionUpdateRequest) error {
	m.called("updateTransaction")
	return m.failWith
}

func (m *mockVendorOps) ValidateConnection(ctx context.Context, creds domain.AuthCredentials) error {
	m.called("validateConnection")
	return m.failWith
}

func (m *mockVendorOps) FetchLocations(ctx context.Context, creds domain.AuthCredentials) ([]domain.Location, error) {
	m.called("fetchLocations")
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.locations, nil
}

func (m *mockVendorOps) RegisterWebhooks(ctx context.Context, creds domain.AuthCredentials, callbackURL string) error {
	m.called("registerWebhooks")
	return m.failWith
}

func (m *mockVendorOps) ProcessWebhookEvent(ctx context.Context, payload []byte) error {
	m.called("processWebhookEvent")
	return m.webhookError
}

const webhookSecret = "whsec_adapter_test"

func newTestAdapter(ops VendorOperations) *BaseAdapter {
	config := domain.AdapterConfiguration{
		ID:            "adapter-biz-1-shopify",
		BusinessID:    "biz-1",
		POSType:       domain.POSTypeShopify,
		Name:          "Main store",
		Enabled:       true,
		Credentials:   domain.AuthCredentials{ShopDomain: "main.myshopify.com", AccessToken: "shpat_test"},
		WebhookSecret: webhookSecret,
	}

	descriptor, _ := NewDefaultRegistry().Get(domain.POSTypeShopify)
	health := resilience.NewHealthMonitor(5*time.Minute, 500*time.Millisecond)

	return NewBaseAdapter(config, descriptor, ops, health, NewLogAnalyticsRecorder(), Defaults{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		CacheMaxEntries:  16,
		CacheDefaultTTL:  time.Minute,
	})
}

func TestSyncTransactionsSuccess(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	result := ba.SyncTransactions(context.TODO(), nil)

	if !result.Success {
		t.Fatalf("Expected a successful sync, got %+v", result)
	}
	if result.RecordsProcessed != 10 {
		t.Fatalf("Expected 10 records processed, got %d", result.RecordsProcessed)
	}
}

func TestSyncPartialFailureIsASuccessPath(t *testing.T) {
	ops := newMockVendorOps()
	ops.syncResult = domain.SyncResult{
		Success:          true,
		RecordsProcessed: 10,
		RecordsUpdated:   7,
		RecordsFailed:    3,
		Errors:           []string{"sku-9: price missing", "sku-12: price missing", "sku-40: malformed"},
		LastSyncTime:     time.Now(),
	}
	ba := newTestAdapter(ops)

	result := ba.SyncProducts(context.TODO(), nil)

	if !result.Success {
		t.Fatalf("Expected partial failure to still report success, got %+v", result)
	}
	if result.RecordsFailed != 3 || len(result.Errors) != 3 {
		t.Fatalf("Expected the failed records to be reported, got %+v", result)
	}
}

func TestSyncFailureSurfacesAsFailedResultNotError(t *testing.T) {
	ops := newMockVendorOps()
	ops.failWith = errVendorDown
	ba := newTestAdapter(ops)

	result := ba.SyncCustomers(context.TODO(), nil)

	if result.Success {
		t.Fatalf("Expected a failed sync result")
	}
	if len(result.Errors) == 0 {
		t.Fatalf("Expected the failure to be reported in errors")
	}
}

// End-to-end scenario: 5 consecutive failures with threshold 5 opens the
// breaker; the 6th call fails fast without reaching the vendor.
func TestCircuitOpensAfterConsecutiveFailuresWithoutVendorCall(t *testing.T) {
	ops := newMockVendorOps()
	ops.failWith = errVendorDown
	ba := newTestAdapter(ops)

	for i := 0; i < 5; i++ {
		ba.SyncTransactions(context.TODO(), nil)
	}

	if ops.calls("syncTransactions") != 5 {
		t.Fatalf("Expected 5 vendor calls, got %d", ops.calls("syncTransactions"))
	}

	result := ba.SyncTransactions(context.TODO(), nil)

	if result.Success {
		t.Fatalf("Expected the 6th call to fail")
	}
	if ops.calls("syncTransactions") != 5 {
		t.Fatalf("Expected the 6th call to be rejected without a vendor call, got %d calls", ops.calls("syncTransactions"))
	}
	if result.Errors[0] != "circuit breaker is open" {
		t.Fatalf("Expected a circuit-open error, got %v", result.Errors)
	}
}

func TestCalculateTaxIsCached(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	request := domain.TaxCalculationRequest{
		Currency:      "USD",
		ShipToCountry: "US",
		ShipToRegion:  "CA",
		LineItems:     []domain.TaxLineItem{{SKU: "sku-1", Quantity: 1, UnitPrice: 42.0}},
	}

	for i := 0; i < 3; i++ {
		result, err := ba.CalculateTax(context.TODO(), request)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if result.TotalTax != 4.2 {
			t.Fatalf("Expected the computed tax, got %+v", result)
		}
	}

	if ops.calls("calculateTax") != 1 {
		t.Fatalf("Expected identical requests to be served from the cache, vendor was called %d times", ops.calls("calculateTax"))
	}
}

func TestCalculateTaxDifferentRequestsAreNotShared(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	requestCA := domain.TaxCalculationRequest{Currency: "USD", ShipToRegion: "CA"}
	requestNY := domain.TaxCalculationRequest{Currency: "USD", ShipToRegion: "NY"}

	ba.CalculateTax(context.TODO(), requestCA)
	ba.CalculateTax(context.TODO(), requestNY)

	if ops.calls("calculateTax") != 2 {
		t.Fatalf("Expected different requests to each reach the vendor, got %d calls", ops.calls("calculateTax"))
	}
}

func TestUpdateTransactionIsNeverCached(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	request := domain.TransactionUpdateRequest{TransactionID: "txn-1", Fields: map[string]interface{}{"status": "refunded"}}

	for i := 0; i < 3; i++ {
		if ok := ba.UpdateTransaction(context.TODO(), request); !ok {
			t.Fatalf("Expected the update to succeed")
		}
	}

	if ops.calls("updateTransaction") != 3 {
		t.Fatalf("Expected every update to reach the vendor, got %d calls", ops.calls("updateTransaction"))
	}
}

func TestHandleWebhookAcceptsVerifiedPayload(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	payload := []byte(`{"event":"order.created"}`)
	signature := webhook.Sign(payload, webhookSecret)

	if !ba.HandleWebhook(context.TODO(), payload, signature) {
		t.Fatalf("Expected a verified webhook to be accepted")
	}
	if ops.calls("processWebhookEvent") != 1 {
		t.Fatalf("Expected the event to reach the vendor hook")
	}
}

func TestHandleWebhookRejectsForgedPayloadBeforeBusinessLogic(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	payload := []byte(`{"event":"order.created"}`)
	signature := webhook.Sign([]byte(`{"event":"order.deleted"}`), webhookSecret)

	if ba.HandleWebhook(context.TODO(), payload, signature) {
		t.Fatalf("Expected a forged webhook to be rejected")
	}
	if ops.calls("processWebhookEvent") != 0 {
		t.Fatalf("Expected the business logic to never run for a forged event")
	}
}

func TestGetHealthMetrics(t *testing.T) {
	ops := newMockVendorOps()
	ba := newTestAdapter(ops)

	ba.SyncTransactions(context.TODO(), nil)

	health := ba.GetHealthMetrics()

	if health.AdapterID != "adapter-biz-1-shopify" {
		t.Fatalf("Unexpected adapter id: %s", health.AdapterID)
	}
	if health.BreakerState != "closed" {
		t.Fatalf("Expected a closed breaker, got %s", health.BreakerState)
	}
	if health.HealthScore <= 0 {
		t.Fatalf("Expected a positive health score, got %f", health.HealthScore)
	}
}

func TestOpenBreakerZeroesHealthScore(t *testing.T) {
	ops := newMockVendorOps()
	ops.failWith = errVendorDown
	ba := newTestAdapter(ops)

	for i := 0; i < 5; i++ {
		ba.SyncTransactions(context.TODO(), nil)
	}

	health := ba.GetHealthMetrics()
	if health.BreakerState != "open" {
		t.Fatalf("Expected an open breaker, got %s", health.BreakerState)
	}
	if health.HealthScore != 0 {
		t.Fatalf("Expected a zero health score with an open breaker, got %f", health.HealthScore)
	}
}
