package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/configstore"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/middlewares"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ConfigurationAdmin is the configuration access the adapter admin routes
// need.
type ConfigurationAdmin interface {
	Get(ctx context.Context, adapterID string) (*domain.AdapterConfiguration, error)
	List(ctx context.Context, businessID domain.BusinessID) ([]*domain.AdapterConfiguration, error)
	SoftDelete(ctx context.Context, adapterID string) error
}

// AdapterServer exposes per-tenant adapter administration: health
// reporting, configuration listing and disconnect.
type AdapterServer struct {
	configurations ConfigurationAdmin
	adapters       *adapter.Manager
	router         *mux.Router
	config         *config.Config
	urlPrefix      string
}

func NewAdapterServer(configurations ConfigurationAdmin, adapters *adapter.Manager, r *mux.Router, urlPrefix string, cfg *config.Config) *AdapterServer {
	return &AdapterServer{
		configurations: configurations,
		adapters:       adapters,
		router:         r,
		config:         cfg,
		urlPrefix:      urlPrefix,
	}
}

func (as *AdapterServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: as.config.ServiceToServiceCredentials}

	securedSubRouter := as.router.PathPrefix(as.urlPrefix).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/adapters/{id}/health", as.handleHealth()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/adapters/{id}", as.handleDisconnect()).Methods(http.MethodDelete)
	securedSubRouter.HandleFunc("/businesses/{id}/adapters", as.handleList()).Methods(http.MethodGet)
}

func (as *AdapterServer) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		adapterID := mux.Vars(req)["id"]

		instance, exists := as.adapters.Get(adapterID)
		if !exists {
			configuration, err := as.configurations.Get(req.Context(), adapterID)
			if err != nil {
				writeConfigurationErrorResponse(w, err)
				return
			}

			instance, err = as.adapters.GetOrCreate(*configuration)
			if err != nil {
				writeConfigurationErrorResponse(w, err)
				return
			}
		}

		writeJSONResponse(w, http.StatusOK, instance.GetHealthMetrics())
	}
}

func (as *AdapterServer) handleList() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		businessID := domain.BusinessID(mux.Vars(req)["id"])

		configurations, err := as.configurations.List(req.Context(), businessID)
		if err != nil {
			writeConfigurationErrorResponse(w, err)
			return
		}

		// credential material never leaves this service
		type listedConfiguration struct {
			ID               string         `json:"id"`
			POSType          domain.POSType `json:"pos_type"`
			Name             string         `json:"name"`
			Enabled          bool           `json:"enabled"`
			CredentialFields []string       `json:"credential_fields"`
		}

		listed := make([]listedConfiguration, 0, len(configurations))
		for _, configuration := range configurations {
			listed = append(listed, listedConfiguration{
				ID:               configuration.ID,
				POSType:          configuration.POSType,
				Name:             configuration.Name,
				Enabled:          configuration.Enabled,
				CredentialFields: configuration.Credentials.FieldNames(),
			})
		}

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{"adapters": listed})
	}
}

func (as *AdapterServer) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		adapterID := mux.Vars(req)["id"]
		log := logger.Log.WithFields(logrus.Fields{"adapter_id": adapterID})

		if err := as.configurations.SoftDelete(req.Context(), adapterID); err != nil {
			writeConfigurationErrorResponse(w, err)
			return
		}

		as.adapters.Remove(adapterID)

		log.Info("Adapter disconnected")
		writeJSONResponse(w, http.StatusNoContent, nil)
	}
}

func writeConfigurationErrorResponse(w http.ResponseWriter, err error) {
	if errors.Is(err, configstore.ErrConfigurationNotFound) {
		writeJSONResponse(w, http.StatusNotFound, errorResponse{
			Title:  "Adapter configuration not found",
			Status: http.StatusNotFound,
			Detail: err.Error()})
		return
	}

	writeJSONResponse(w, http.StatusInternalServerError, errorResponse{
		Title:  "Unable to access adapter configurations",
		Status: http.StatusInternalServerError,
		Detail: err.Error()})
}
