package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/resilience"

	"github.com/sirupsen/logrus"
)

// ErrNotSupported is returned by operations the generic implementation
// cannot express; a vendor plugin has to supply them.
var ErrNotSupported = errors.New("operation requires a vendor plugin")

var ErrInvalidCredentials = errors.New("vendor rejected the credentials")

// EventSink receives verified webhook payloads for downstream processing.
type EventSink interface {
	PublishJob(ctx context.Context, jobType string, payload []byte, metadata map[string]string) error
}

// ProbeOperations is the generic VendorOperations built from a descriptor
// alone. It covers the onboarding lifecycle (connection test, location
// fetch, read-access check) and hands verified webhook events to the job
// queue. Data mapping operations belong to per-vendor plugins and fail
// with ErrNotSupported here.
type ProbeOperations struct {
	descriptor *VendorDescriptor
	client     *http.Client
	events     EventSink
}

func NewProbeOperations(descriptor *VendorDescriptor, timeout time.Duration, events EventSink) *ProbeOperations {
	return &ProbeOperations{
		descriptor: descriptor,
		client:     &http.Client{Timeout: timeout},
		events:     events,
	}
}

func (po *ProbeOperations) probe(ctx context.Context, creds domain.AuthCredentials) (*http.Response, error) {
	url := po.descriptor.BaseURL(creds) + po.descriptor.ProbeEndpoints[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	headerName, headerValue := po.descriptor.AuthHeaderBuilder(creds)
	if headerValue != "" {
		req.Header.Set(headerName, headerValue)
	}

	resp, err := po.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrInvalidCredentials
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, &resilience.HTTPError{StatusCode: resp.StatusCode}
	}

	return resp, nil
}

func (po *ProbeOperations) ValidateConnection(ctx context.Context, creds domain.AuthCredentials) error {
	resp, err := po.probe(ctx, creds)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

func (po *ProbeOperations) FetchLocations(ctx context.Context, creds domain.AuthCredentials) ([]domain.Location, error) {
	resp, err := po.probe(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Locations []domain.Location `json:"locations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// the endpoint is reachable but not location-shaped
		return []domain.Location{}, nil
	}

	return parsed.Locations, nil
}

// RegisterWebhooks is a no-op here: webhook subscription endpoints differ
// per vendor and belong to the plugin layer. The connector still serves
// inbound deliveries for tenants whose subscriptions were created out of
// band.
func (po *ProbeOperations) RegisterWebhooks(ctx context.Context, creds domain.AuthCredentials, callbackURL string) error {
	logger.Log.WithFields(logrus.Fields{
		"pos_type":     po.descriptor.POSType,
		"callback_url": callbackURL,
	}).Debug("Webhook registration delegated to the vendor plugin")
	return nil
}

// DoSyncTransactions verifies read access with a probe; it moves no data.
// The RecordsProcessed count stays zero so callers can tell this apart
// from a plugin-backed sync.
func (po *ProbeOperations) DoSyncTransactions(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	if err := po.ValidateConnection(ctx, creds); err != nil {
		return domain.SyncResult{}, err
	}
	return domain.SyncResult{Success: true, LastSyncTime: time.Now()}, nil
}

func (po *ProbeOperations) DoSyncProducts(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	return po.DoSyncTransactions(ctx, creds, lastSyncTime)
}

func (po *ProbeOperations) DoSyncCustomers(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	return po.DoSyncTransactions(ctx, creds, lastSyncTime)
}

func (po *ProbeOperations) DoCalculateTax(ctx context.Context, creds domain.AuthCredentials, request domain.TaxCalculationRequest) (domain.TaxCalculationResult, error) {
	return domain.TaxCalculationResult{}, ErrNotSupported
}

func (po *ProbeOperations) DoUpdateTransaction(ctx context.Context, creds domain.AuthCredentials, request domain.TransactionUpdateRequest) error {
	return ErrNotSupported
}

// ProcessWebhookEvent forwards the verified payload to the job queue for
// asynchronous processing.
func (po *ProbeOperations) ProcessWebhookEvent(ctx context.Context, payload []byte) error {
	if po.events == nil {
		return errors.New("no event sink configured")
	}

	jobType := fmt.Sprintf("pos-connector.webhook.%s", po.descriptor.POSType)
	return po.events.PublishJob(ctx, jobType, payload, map[string]string{
		"pos_type": po.descriptor.POSType.String(),
	})
}
