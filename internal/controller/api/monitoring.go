package api

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DependencyPinger reports whether one external dependency is reachable.
type DependencyPinger func(ctx context.Context) error

type MonitoringServer struct {
	router  *mux.Router
	config  *config.Config
	pingers map[string]DependencyPinger
}

func NewMonitoringServer(r *mux.Router, cfg *config.Config, pingers map[string]DependencyPinger) *MonitoringServer {
	return &MonitoringServer{
		router:  r,
		config:  cfg,
		pingers: pingers,
	}
}

func (s *MonitoringServer) Routes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/liveness", s.handleLiveness()).Methods(http.MethodGet)
	s.router.HandleFunc("/readiness", s.handleReadiness()).Methods(http.MethodGet)

	if s.config.Profile {
		logger.Log.Warn("WARNING: Enabling the profiler endpoint!!")
		s.router.PathPrefix("/debug").Handler(http.DefaultServeMux)
	}
}

func (s *MonitoringServer) handleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// handleReadiness pings every registered dependency; one failure makes the
// whole pod not-ready.
func (s *MonitoringServer) handleReadiness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		for name, ping := range s.pingers {
			if err := ping(ctx); err != nil {
				logger.Log.WithFields(logrus.Fields{"dependency": name, "error": err}).Warn("Readiness check failed")
				writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse{
					Title:  "Dependency is not ready",
					Status: http.StatusServiceUnavailable,
					Detail: name,
				})
				return
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}
