package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/configstore"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/resilience"
	"github.com/tax-connect/pos-connector/internal/webhook"

	"github.com/gorilla/mux"
)

type suiteVendorOps struct {
	processed int
}

func (so *suiteVendorOps) DoSyncTransactions(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	return domain.SyncResult{Success: true}, nil
}
func (so *suiteVendorOps) DoSyncProducts(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	return domain.SyncResult{Success: true}, nil
}
func (so *suiteVendorOps) DoSyncCustomers(ctx context.Context, creds domain.AuthCredentials, lastSyncTime *time.Time) (domain.SyncResult, error) {
	return domain.SyncResult{Success: true}, nil
}
func (so *suiteVendorOps) DoCalculateTax(ctx context.Context, creds domain.AuthCredentials, request domain.TaxCalculationRequest) (domain.TaxCalculationResult, error) {
	return domain.TaxCalculationResult{}, nil
}
func (so *suiteVendorOps) DoUpdateTransaction(ctx context.Context, creds domain.AuthCredentials, request domain.TransactionUpdateRequest) error {
	return nil
}
func (so *suiteVendorOps) ValidateConnection(ctx context.Context, creds domain.AuthCredentials) error {
	return nil
}
func (so *suiteVendorOps) FetchLocations(ctx context.Context, creds domain.AuthCredentials) ([]domain.Location, error) {
	return nil, nil
}
func (so *suiteVendorOps) RegisterWebhooks(ctx context.Context, creds domain.AuthCredentials, callbackURL string) error {
	return nil
}
func (so *suiteVendorOps) ProcessWebhookEvent(ctx context.Context, payload []byte) error {
	so.processed++
	return nil
}

type suiteConfigLookup struct {
	configuration *domain.AdapterConfiguration
}

func (sl *suiteConfigLookup) GetByBusinessAndType(ctx context.Context, businessID domain.BusinessID, posType domain.POSType) (*domain.AdapterConfiguration, error) {
	if sl.configuration == nil {
		return nil, configstore.ErrConfigurationNotFound
	}
	return sl.configuration, nil
}

var _ = Describe("Webhook receiver", func() {

	const webhookSecret = "whsec_api_suite"

	var (
		apiMux    *mux.Router
		vendorOps *suiteVendorOps
		lookup    *suiteConfigLookup
	)

	newSuiteDispatcher := func() *webhook.Dispatcher {
		return webhook.NewDispatcher(
			time.Second,
			resilience.NewRetryPolicy("suite_delivery", 1, time.Millisecond, 2, time.Millisecond),
			nil)
	}

	BeforeEach(func() {
		apiMux = mux.NewRouter()
		cfg := config.GetConfig()

		vendorOps = &suiteVendorOps{}
		lookup = &suiteConfigLookup{
			configuration: &domain.AdapterConfiguration{
				ID:            "adapter-hooks",
				BusinessID:    "biz-hooks",
				POSType:       domain.POSTypeShopify,
				Name:          "Shopify",
				Enabled:       true,
				WebhookSecret: webhookSecret,
			},
		}

		adapters := adapter.NewManager(
			adapter.NewDefaultRegistry(),
			resilience.NewHealthMonitor(time.Minute, time.Second),
			nil,
			adapter.Defaults{
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
				RetryMaxAttempts: 1,
				RetryBaseDelay:   time.Millisecond,
				RetryMaxDelay:    time.Millisecond,
				CacheMaxEntries:  16,
				CacheDefaultTTL:  time.Minute,
			},
			func(descriptor *adapter.VendorDescriptor) adapter.VendorOperations { return vendorOps },
		)

		receiver := NewWebhookReceiver(lookup, adapters, newSuiteDispatcher(), apiMux, testURLPrefix, cfg)
		receiver.Routes()
	})

	postWebhook := func(payload string, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost,
			testURLPrefix+"/webhooks/shopify/biz-hooks",
			strings.NewReader(payload))
		if signature != "" {
			req.Header.Set(webhook.SignatureHeader, signature)
		}

		recorder := httptest.NewRecorder()
		apiMux.ServeHTTP(recorder, req)
		return recorder
	}

	It("accepts a correctly signed delivery", func() {
		payload := `{"event":"orders/create"}`
		recorder := postWebhook(payload, webhook.Sign([]byte(payload), webhookSecret))

		Expect(recorder.Code).To(Equal(http.StatusAccepted))
		Expect(vendorOps.processed).To(Equal(1))
	})

	It("rejects a tampered delivery before any business logic", func() {
		signature := webhook.Sign([]byte(`{"event":"orders/create"}`), webhookSecret)
		recorder := postWebhook(`{"event":"orders/create","amount":0}`, signature)

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		Expect(vendorOps.processed).To(Equal(0))
	})

	It("rejects a delivery without a signature", func() {
		recorder := postWebhook(`{"event":"orders/create"}`, "")

		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		Expect(vendorOps.processed).To(Equal(0))
	})

	It("forwards an accepted delivery to the configured subscriber, re-signed", func() {
		type forwarded struct {
			payload   string
			signature string
		}
		deliveries := make(chan forwarded, 1)

		subscriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			deliveries <- forwarded{payload: string(body), signature: r.Header.Get(webhook.SignatureHeader)}
			w.WriteHeader(http.StatusOK)
		}))
		defer subscriber.Close()

		lookup.configuration.Settings = map[string]interface{}{"notification_url": subscriber.URL}

		payload := `{"event":"orders/create"}`
		recorder := postWebhook(payload, webhook.Sign([]byte(payload), webhookSecret))
		Expect(recorder.Code).To(Equal(http.StatusAccepted))

		var received forwarded
		Eventually(deliveries).Should(Receive(&received))
		Expect(received.payload).To(Equal(payload))
		Expect(webhook.Verify([]byte(received.payload), received.signature, webhookSecret)).To(BeTrue())
	})

	It("returns 404 for a business with no matching configuration", func() {
		lookup.configuration = nil
		payload := `{"event":"orders/create"}`
		recorder := postWebhook(payload, webhook.Sign([]byte(payload), webhookSecret))

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})
})
