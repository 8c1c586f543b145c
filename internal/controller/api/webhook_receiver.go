package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/configstore"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/middlewares"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ConfigurationLookup resolves the adapter configuration a webhook
// delivery is addressed to.
type ConfigurationLookup interface {
	GetByBusinessAndType(ctx context.Context, businessID domain.BusinessID, posType domain.POSType) (*domain.AdapterConfiguration, error)
}

// notificationURLSetting names the per-tenant subscriber endpoint verified
// events are forwarded to.
const notificationURLSetting = "notification_url"

// WebhookReceiver terminates inbound vendor webhooks. There is no PSK auth
// on these routes: the HMAC signature over the raw payload is the
// authentication.
type WebhookReceiver struct {
	configurations ConfigurationLookup
	adapters       *adapter.Manager
	dispatcher     *webhook.Dispatcher
	router         *mux.Router
	config         *config.Config
	urlPrefix      string
}

func NewWebhookReceiver(configurations ConfigurationLookup, adapters *adapter.Manager, dispatcher *webhook.Dispatcher, r *mux.Router, urlPrefix string, cfg *config.Config) *WebhookReceiver {
	return &WebhookReceiver{
		configurations: configurations,
		adapters:       adapters,
		dispatcher:     dispatcher,
		router:         r,
		config:         cfg,
		urlPrefix:      urlPrefix,
	}
}

func (wr *WebhookReceiver) Routes() {
	mmw := &middlewares.MetricsMiddleware{}

	subRouter := wr.router.PathPrefix(wr.urlPrefix).Subrouter()
	subRouter.Use(logger.AccessLoggerMiddleware, mmw.RecordHTTPMetrics)

	subRouter.HandleFunc("/webhooks/{posType}/{businessId}", wr.handleWebhook()).Methods(http.MethodPost)
}

func (wr *WebhookReceiver) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		vars := mux.Vars(req)
		posType := domain.POSType(vars["posType"])
		businessID := domain.BusinessID(vars["businessId"])

		log := logger.Log.WithFields(logrus.Fields{
			"pos_type":    posType,
			"business_id": businessID,
		})

		payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1048576))
		if err != nil {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, errorResponse{
				Title:  "Payload too large",
				Status: http.StatusRequestEntityTooLarge,
				Detail: err.Error()})
			return
		}

		configuration, err := wr.configurations.GetByBusinessAndType(req.Context(), businessID, posType)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, configstore.ErrConfigurationNotFound) {
				status = http.StatusNotFound
			}
			writeJSONResponse(w, status, errorResponse{
				Title:  "Unknown integration",
				Status: status,
				Detail: "no adapter configuration for this business and pos type"})
			return
		}

		instance, err := wr.adapters.GetOrCreate(*configuration)
		if err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to build adapter for webhook")
			writeJSONResponse(w, http.StatusInternalServerError, errorResponse{
				Title:  "Unable to process webhook",
				Status: http.StatusInternalServerError,
				Detail: err.Error()})
			return
		}

		signature := req.Header.Get(webhook.SignatureHeader)
		if signature == "" {
			if descriptor, err := wr.adapters.Descriptor(posType); err == nil && descriptor.WebhookSecretHeader != "" {
				signature = req.Header.Get(descriptor.WebhookSecretHeader)
			}
		}

		if !instance.HandleWebhook(req.Context(), payload, signature) {
			writeJSONResponse(w, http.StatusUnauthorized, errorResponse{
				Title:  "Webhook rejected",
				Status: http.StatusUnauthorized,
				Detail: "signature verification or processing failed"})
			return
		}

		wr.forwardToSubscriber(configuration, payload, log)

		writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// forwardToSubscriber re-delivers the verified payload to the tenant's
// configured notification endpoint, signed with the same per-tenant secret.
// Delivery is fire-and-forget: the vendor's request is acknowledged
// regardless, and exhausted deliveries land on the redelivery topic.
func (wr *WebhookReceiver) forwardToSubscriber(configuration *domain.AdapterConfiguration, payload []byte, log *logrus.Entry) {
	if wr.dispatcher == nil {
		return
	}

	url, _ := configuration.Settings[notificationURLSetting].(string)
	if url == "" {
		return
	}

	log.WithFields(logrus.Fields{"url": url}).Debug("Forwarding webhook to subscriber")

	wr.dispatcher.Deliver(context.Background(), url, payload, webhook.DeliveryOptions{
		Secret: configuration.WebhookSecret,
	})
}
