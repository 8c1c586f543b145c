package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/detection"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/middlewares"
	"github.com/tax-connect/pos-connector/internal/onboarding"

	"github.com/gorilla/mux"
)

const (
	testURLPrefix       = "/api/pos-connector/v1"
	onboardingEndpoint  = testURLPrefix + "/onboarding"
	detectionEndpoint   = testURLPrefix + "/detection"
	testServiceClientID = "test_client_1"
	testServicePSK      = "12345"
)

type suiteDetector struct {
	candidates []domain.DetectionResult
}

func (sd *suiteDetector) DetectCandidates(ctx context.Context, creds domain.AuthCredentials) ([]domain.DetectionResult, error) {
	return sd.candidates, nil
}

type suiteAdapter struct{}

func (sa *suiteAdapter) TestConnection(ctx context.Context) error { return nil }
func (sa *suiteAdapter) FetchLocations(ctx context.Context) ([]domain.Location, error) {
	return nil, nil
}
func (sa *suiteAdapter) SetupWebhooks(ctx context.Context, callbackURL string) error { return nil }
func (sa *suiteAdapter) SyncTransactions(ctx context.Context, lastSyncTime *time.Time) domain.SyncResult {
	return domain.SyncResult{Success: true}
}

type suiteConfigSaver struct{}

func (sc *suiteConfigSaver) Upsert(ctx context.Context, configuration *domain.AdapterConfiguration) error {
	return nil
}

func addServiceAuthHeaders(req *http.Request) {
	req.Header.Set(middlewares.PSKClientIdHeader, testServiceClientID)
	req.Header.Set(middlewares.PSKAccountHeader, "biz-api-test")
	req.Header.Set(middlewares.PSKHeader, testServicePSK)
}

func startOnboardingBody(businessID string) io.Reader {
	return strings.NewReader(fmt.Sprintf("{\"business_id\": \"%s\"}", businessID))
}

var _ = Describe("Onboarding API", func() {

	var (
		apiMux *mux.Router
	)

	BeforeEach(func() {
		apiMux = mux.NewRouter()
		cfg := config.GetConfig()
		cfg.ServiceToServiceCredentials[testServiceClientID] = testServicePSK

		manager := onboarding.NewManager(onboarding.ManagerOptions{
			Store:    onboarding.NewLocalSessionStore(),
			Detector: &suiteDetector{candidates: []domain.DetectionResult{{POSType: domain.POSTypeShopify, Confidence: 0.9}}},
			Registry: adapter.NewDefaultRegistry(),
			AdapterFactory: func(configuration domain.AdapterConfiguration) (onboarding.Adapter, error) {
				return &suiteAdapter{}, nil
			},
			ConfigurationStore: &suiteConfigSaver{},
			StateSigner:        onboarding.NewStateSigner("api-suite-key"),
			TokenExchanger:     onboarding.NewHTTPTokenExchanger(time.Second),
			SessionDuration:    30 * time.Minute,
			WebhookCallbackURL: "https://connector.example.com" + testURLPrefix + "/webhooks",
		})

		// an empty registry makes every detection attempt miss
		detector := detection.NewDetector(adapter.NewRegistry(), 3, time.Second)

		server := NewOnboardingServer(manager, detector, apiMux, testURLPrefix, cfg)
		server.Routes()
	})

	Describe("starting a session", func() {

		It("returns 201 with a session and next action", func() {
			req := httptest.NewRequest(http.MethodPost, onboardingEndpoint, startOnboardingBody("biz-1"))
			addServiceAuthHeaders(req)

			recorder := httptest.NewRecorder()
			apiMux.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusCreated))
			Expect(recorder.Body.String()).To(ContainSubstring("manual_credentials"))
			Expect(recorder.Body.String()).To(ContainSubstring("\"status\":\"initiated\""))
		})

		It("rejects a request without a business id", func() {
			req := httptest.NewRequest(http.MethodPost, onboardingEndpoint, strings.NewReader("{}"))
			addServiceAuthHeaders(req)

			recorder := httptest.NewRecorder()
			apiMux.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an unauthenticated request", func() {
			req := httptest.NewRequest(http.MethodPost, onboardingEndpoint, startOnboardingBody("biz-1"))

			recorder := httptest.NewRecorder()
			apiMux.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("continuing a session", func() {

		It("completes the flow when credentials are supplied", func() {
			startReq := httptest.NewRequest(http.MethodPost, onboardingEndpoint, startOnboardingBody("biz-2"))
			addServiceAuthHeaders(startReq)
			startRecorder := httptest.NewRecorder()
			apiMux.ServeHTTP(startRecorder, startReq)
			Expect(startRecorder.Code).To(Equal(http.StatusCreated))

			var started struct {
				Session struct {
					ID string `json:"id"`
				} `json:"session"`
			}
			Expect(json.Unmarshal(startRecorder.Body.Bytes(), &started)).To(Succeed())

			continueReq := httptest.NewRequest(http.MethodPost, onboardingEndpoint+"/"+started.Session.ID,
				strings.NewReader("{\"credentials\": {\"access_token\": \"shpat_test\"}}"))
			addServiceAuthHeaders(continueReq)

			continueRecorder := httptest.NewRecorder()
			apiMux.ServeHTTP(continueRecorder, continueReq)

			Expect(continueRecorder.Code).To(Equal(http.StatusOK))
			Expect(continueRecorder.Body.String()).To(ContainSubstring("\"next_action\":\"complete\""))
			Expect(continueRecorder.Body.String()).To(ContainSubstring("\"status\":\"completed\""))
		})

		It("returns 404 for an unknown session", func() {
			req := httptest.NewRequest(http.MethodPost, onboardingEndpoint+"/no-such-session",
				strings.NewReader("{\"credentials\": {\"access_token\": \"shpat_test\"}}"))
			addServiceAuthHeaders(req)

			recorder := httptest.NewRecorder()
			apiMux.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
			Expect(recorder.Body.String()).To(ContainSubstring("SESSION_NOT_FOUND"))
		})
	})

	Describe("standalone detection", func() {

		It("maps a detection miss to 422 DETECTION_FAILED", func() {
			req := httptest.NewRequest(http.MethodPost, detectionEndpoint,
				strings.NewReader("{\"credentials\": {\"access_token\": \"who-knows\"}}"))
			addServiceAuthHeaders(req)

			recorder := httptest.NewRecorder()
			apiMux.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(recorder.Body.String()).To(ContainSubstring("DETECTION_FAILED"))
		})
	})
})
