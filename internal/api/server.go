package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/invite-runner/internal/proxy"
	"github.com/shehryarbajwa/invite-runner/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(relay *proxy.Server, limiter *ratelimit.Limiter, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()

	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter, h.metrics))
	limited.HandleFunc("/invitations", h.CreateInvitation).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/runs", h.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		relay.HandleDebugConnection(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)

	r.Use(corsMiddleware)
	return r
}
