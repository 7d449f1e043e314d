package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/middleware"
)

// ReadinessCheck returns nil when the worker can take traffic
type ReadinessCheck func() error

// NewRouter wires the platform probes and the metrics endpoint
func NewRouter(ready ReadinessCheck, gatherer prometheus.Gatherer, logger logging.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/isalive", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ALIVE")
	}).Methods(http.MethodGet)

	router.HandleFunc("/isready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeText(w, http.StatusServiceUnavailable, "NOT READY: "+err.Error())
				return
			}
		}
		writeText(w, http.StatusOK, "READY")
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return router
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
