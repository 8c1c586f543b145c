package adapter

import (
	"context"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
)

// VendorOperations is the set of hooks a concrete vendor integration
// implements. Everything else (breaker, retry, cache, health accounting,
// webhook verification) is supplied by BaseAdapter.
type VendorOperations interface {
	DoSyncTransactions(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error)
	DoSyncProducts(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error)
	DoSyncCustomers(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error)
	DoCalculateTax(ctx context.Context, creds domain.AuthCredentials, request domain.TaxCalculationRequest) (domain.TaxCalculationResult, error)
	DoUpdateTransaction(ctx context.Context, creds domain.AuthCredentials, request domain.TransactionUpdateRequest) error

	// ValidateConnection is the cheap "is this credential set usable" call
	// issued by the onboarding test-connection step.
	ValidateConnection(ctx context.Context, creds domain.AuthCredentials) error
	FetchLocations(ctx context.Context, creds domain.AuthCredentials) ([]domain.Location, error)
	RegisterWebhooks(ctx context.Context, creds domain.AuthCredentials, callbackURL string) error

	// ProcessWebhookEvent runs after the signature has been verified.
	ProcessWebhookEvent(ctx context.Context, payload []byte) error
}

// OperationEvent is the analytics record emitted for every enhanced call.
type OperationEvent struct {
	AdapterID     string        `json:"adapter_id"`
	BusinessID    string        `json:"business_id"`
	POSType       string        `json:"pos_type"`
	OperationName string        `json:"operation_name"`
	Success       bool          `json:"success"`
	CacheHit      bool          `json:"cache_hit"`
	Latency       time.Duration `json:"latency"`
	Error         string        `json:"error,omitempty"`
	At            time.Time     `json:"at"`
}

// AnalyticsRecorder receives an OperationEvent for every outbound call,
// success or failure. Implementations must not block.
type AnalyticsRecorder interface {
	RecordOperation(event OperationEvent)
}
