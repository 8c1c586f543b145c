package domain

import (
	"time"
)

type BusinessID string

func (bid BusinessID) String() string {
	return string(bid)
}

type POSType string

func (pt POSType) String() string {
	return string(pt)
}

const (
	POSTypeShopify POSType = "shopify"
	POSTypeSquare  POSType = "square"
	POSTypeClover  POSType = "clover"
)

type SessionID string

func (sid SessionID) String() string {
	return string(sid)
}

// AuthCredentials holds whatever secret material a vendor requires. Values
// are opaque to this core and must never be written to the logs.
type AuthCredentials struct {
	APIKey       string `json:"api_key,omitempty"`
	APISecret    string `json:"api_secret,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	MerchantID   string `json:"merchant_id,omitempty"`
	ShopDomain   string `json:"shop_domain,omitempty"`
}

// FieldNames reports which credential fields are populated. Safe to log.
func (ac AuthCredentials) FieldNames() []string {
	fields := []string{}
	if ac.APIKey != "" {
		fields = append(fields, "api_key")
	}
	if ac.APISecret != "" {
		fields = append(fields, "api_secret")
	}
	if ac.AccessToken != "" {
		fields = append(fields, "access_token")
	}
	if ac.RefreshToken != "" {
		fields = append(fields, "refresh_token")
	}
	if ac.MerchantID != "" {
		fields = append(fields, "merchant_id")
	}
	if ac.ShopDomain != "" {
		fields = append(fields, "shop_domain")
	}
	return fields
}

func (ac AuthCredentials) IsEmpty() bool {
	return len(ac.FieldNames()) == 0
}

// CredentialPhase is the authentication progress of an onboarding session.
// Each phase carries only the data that is legal for that phase, so a
// connection test cannot be issued against credentials that do not exist yet.
type CredentialPhase string

const (
	PhaseUnauthenticated CredentialPhase = "unauthenticated"
	PhasePendingOAuth    CredentialPhase = "pending_oauth"
	PhaseAuthenticated   CredentialPhase = "authenticated"
)

type CredentialState struct {
	Phase       CredentialPhase `json:"phase"`
	Partial     AuthCredentials `json:"partial,omitempty"`
	Credentials AuthCredentials `json:"credentials,omitempty"`
}

func Unauthenticated() CredentialState {
	return CredentialState{Phase: PhaseUnauthenticated}
}

func PendingOAuth(partial AuthCredentials) CredentialState {
	return CredentialState{Phase: PhasePendingOAuth, Partial: partial}
}

func Authenticated(creds AuthCredentials) CredentialState {
	return CredentialState{Phase: PhaseAuthenticated, Credentials: creds}
}

// AdapterConfiguration is the persisted per-tenant integration record that
// a BaseAdapter reads on every call.
type AdapterConfiguration struct {
	ID          string                 `json:"id"`
	BusinessID  BusinessID             `json:"business_id"`
	POSType     POSType                `json:"pos_type"`
	Name        string                 `json:"name"`
	Enabled     bool                   `json:"enabled"`
	Credentials AuthCredentials        `json:"credentials"`
	Settings    map[string]interface{} `json:"settings,omitempty"`

	CircuitBreakerOptions *CircuitBreakerOptions `json:"circuit_breaker_options,omitempty"`
	RetryOptions          *RetryOptions          `json:"retry_options,omitempty"`
	CacheOptions          *CacheOptions          `json:"cache_options,omitempty"`
	WebhookSecret         string                 `json:"webhook_secret,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type CircuitBreakerOptions struct {
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

type RetryOptions struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Multiplier  float64       `json:"multiplier"`
	MaxDelay    time.Duration `json:"max_delay"`
}

type CacheOptions struct {
	MaxEntries int           `json:"max_entries"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// DetectionResult is one ranked candidate produced by the POS detector.
type DetectionResult struct {
	POSType             POSType              `json:"pos_type"`
	Confidence          float64              `json:"confidence"`
	SupportedFeatures   []string             `json:"supported_features"`
	RequiredCredentials []string             `json:"required_credentials"`
	Configuration       AdapterConfiguration `json:"configuration"`
}

// SyncResult reports the outcome of one sync pass. Partial failure is a
// success path: Success can be true while RecordsFailed is non-zero.
type SyncResult struct {
	Success          bool      `json:"success"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsUpdated   int       `json:"records_updated"`
	RecordsCreated   int       `json:"records_created"`
	RecordsFailed    int       `json:"records_failed"`
	Errors           []string  `json:"errors,omitempty"`
	LastSyncTime     time.Time `json:"last_sync_time"`
}

type TaxLineItem struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	TaxCode   string  `json:"tax_code,omitempty"`
}

type TaxCalculationRequest struct {
	Currency        string        `json:"currency"`
	LineItems       []TaxLineItem `json:"line_items"`
	ShipToCountry   string        `json:"ship_to_country"`
	ShipToRegion    string        `json:"ship_to_region"`
	ShipToPostal    string        `json:"ship_to_postal"`
	CustomerExempt  bool          `json:"customer_exempt"`
	TransactionDate time.Time     `json:"transaction_date"`
}

type TaxCalculationResult struct {
	TotalTax     float64            `json:"total_tax"`
	TaxableValue float64            `json:"taxable_value"`
	Breakdown    map[string]float64 `json:"breakdown,omitempty"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

type TransactionUpdateRequest struct {
	TransactionID string                 `json:"transaction_id"`
	Fields        map[string]interface{} `json:"fields"`
}

// Location is one physical or online store belonging to a business.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	Postal  string `json:"postal,omitempty"`
}

// AdapterHealth is the composite view exposed for reporting.
type AdapterHealth struct {
	AdapterID    string     `json:"adapter_id"`
	BreakerState string     `json:"breaker_state"`
	HealthScore  float64    `json:"health_score"`
	SuccessRate  float64    `json:"success_rate"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	CacheStats   CacheStats `json:"cache_stats"`
}

type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}
