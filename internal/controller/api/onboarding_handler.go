package api

import (
	"errors"
	"net/http"

	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/detection"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/middlewares"
	"github.com/tax-connect/pos-connector/internal/onboarding"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// OnboardingServer exposes the onboarding session flow and the standalone
// detection endpoint to operator tooling.
type OnboardingServer struct {
	manager   *onboarding.Manager
	detector  *detection.Detector
	router    *mux.Router
	config    *config.Config
	urlPrefix string
}

func NewOnboardingServer(manager *onboarding.Manager, detector *detection.Detector, r *mux.Router, urlPrefix string, cfg *config.Config) *OnboardingServer {
	return &OnboardingServer{
		manager:   manager,
		detector:  detector,
		router:    r,
		config:    cfg,
		urlPrefix: urlPrefix,
	}
}

func (os *OnboardingServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: os.config.ServiceToServiceCredentials}

	securedSubRouter := os.router.PathPrefix(os.urlPrefix).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/onboarding", os.handleStart()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/onboarding/{id}", os.handleContinue()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/onboarding/{id}", os.handleGet()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/onboarding/{id}", os.handleCancel()).Methods(http.MethodDelete)
	securedSubRouter.HandleFunc("/onboarding/{id}/oauth_url", os.handleOAuthURL()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/detection", os.handleDetect()).Methods(http.MethodPost)
}

type startOnboardingRequest struct {
	BusinessID  string `json:"business_id" validate:"required"`
	POSType     string `json:"pos_type"`
	RedirectURI string `json:"redirect_uri"`
}

func (os *OnboardingServer) handleStart() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		log := logger.Log.WithFields(logrus.Fields{"request_id": requestId})

		var startRequest startOnboardingRequest

		body := http.MaxBytesReader(w, req.Body, 1048576)
		if err := decodeJSON(body, &startRequest); err != nil {
			writeInvalidInputResponse(log, w, err)
			return
		}

		result, err := os.manager.StartOnboarding(req.Context(),
			domain.BusinessID(startRequest.BusinessID),
			domain.POSType(startRequest.POSType),
			startRequest.RedirectURI)
		if err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusCreated, result)
	}
}

func (os *OnboardingServer) handleContinue() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		sessionID := domain.SessionID(mux.Vars(req)["id"])
		log := logger.Log.WithFields(logrus.Fields{"request_id": requestId, "session_id": sessionID})

		var continueData onboarding.ContinueData

		body := http.MaxBytesReader(w, req.Body, 1048576)
		if err := decodeJSON(body, &continueData); err != nil {
			writeInvalidInputResponse(log, w, err)
			return
		}

		result, err := os.manager.ContinueOnboarding(req.Context(), sessionID, continueData)
		if err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, result)
	}
}

func (os *OnboardingServer) handleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		sessionID := domain.SessionID(mux.Vars(req)["id"])
		log := logger.Log.WithFields(logrus.Fields{"session_id": sessionID})

		session, err := os.manager.GetSession(req.Context(), sessionID)
		if err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, session)
	}
}

func (os *OnboardingServer) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		sessionID := domain.SessionID(mux.Vars(req)["id"])
		log := logger.Log.WithFields(logrus.Fields{"session_id": sessionID})

		if err := os.manager.CancelOnboarding(req.Context(), sessionID); err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusNoContent, nil)
	}
}

func (os *OnboardingServer) handleOAuthURL() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		sessionID := domain.SessionID(mux.Vars(req)["id"])
		posType := domain.POSType(req.URL.Query().Get("pos_type"))
		shopDomain := req.URL.Query().Get("shop_domain")
		log := logger.Log.WithFields(logrus.Fields{"session_id": sessionID, "pos_type": posType})

		if posType == "" {
			writeInvalidInputResponse(log, w, errors.New("pos_type query parameter is required"))
			return
		}

		oauthURL, err := os.manager.GenerateOAuthUrl(req.Context(), sessionID, posType, shopDomain)
		if err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]string{"oauth_url": oauthURL})
	}
}

type detectRequest struct {
	Credentials domain.AuthCredentials `json:"credentials" validate:"required"`
}

type detectResponse struct {
	Candidates []domain.DetectionResult `json:"candidates"`
}

func (os *OnboardingServer) handleDetect() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		log := logger.Log.WithFields(logrus.Fields{"request_id": requestId})

		var detectRequest detectRequest

		body := http.MaxBytesReader(w, req.Body, 1048576)
		if err := decodeJSON(body, &detectRequest); err != nil {
			writeInvalidInputResponse(log, w, err)
			return
		}

		candidates, err := os.detector.DetectCandidates(req.Context(), detectRequest.Credentials)
		if err != nil {
			writeOnboardingErrorResponse(log, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, detectResponse{Candidates: candidates})
	}
}

func writeInvalidInputResponse(log *logrus.Entry, w http.ResponseWriter, err error) {
	errMsg := "Unable to process json input"
	log.WithFields(logrus.Fields{"error": err}).Debug(errMsg)
	response := errorResponse{Title: errMsg,
		Status: http.StatusBadRequest,
		Detail: err.Error()}
	writeJSONResponse(w, response.Status, response)
}

// writeOnboardingErrorResponse maps domain failures onto stable HTTP
// shapes so operator tooling can branch on them.
func writeOnboardingErrorResponse(log *logrus.Entry, w http.ResponseWriter, err error) {
	var response errorResponse

	switch {
	case errors.Is(err, onboarding.ErrSessionNotFound):
		response = errorResponse{Title: "SESSION_NOT_FOUND", Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, onboarding.ErrSessionExpired):
		response = errorResponse{Title: "SESSION_EXPIRED", Status: http.StatusGone, Detail: err.Error()}
	case errors.Is(err, onboarding.ErrSessionConflict):
		response = errorResponse{Title: "SESSION_CONFLICT", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, detection.ErrDetectionFailed):
		response = errorResponse{Title: "DETECTION_FAILED", Status: http.StatusUnprocessableEntity, Detail: err.Error()}
	case errors.Is(err, onboarding.ErrInvalidOAuthState):
		response = errorResponse{Title: "INVALID_OAUTH_STATE", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, onboarding.ErrUnknownPOSType):
		response = errorResponse{Title: "UNKNOWN_POS_TYPE", Status: http.StatusBadRequest, Detail: err.Error()}
	default:
		log.WithFields(logrus.Fields{"error": err}).Info("Onboarding request failed")
		response = errorResponse{Title: "ONBOARDING_STEP_FAILED", Status: http.StatusUnprocessableEntity, Detail: err.Error()}
	}

	writeJSONResponse(w, response.Status, response)
}
