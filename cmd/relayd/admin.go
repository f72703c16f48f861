package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/deadletter"
	"github.com/askelement/relay/internal/health"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/resilience"
)

// adminServer serves Prometheus metrics, health probes, and read-only
// inspection endpoints for circuit state and dead-letter records.
type adminServer struct {
	server *http.Server
	logger observability.Logger
}

func newAdminServer(cfg config.AdminConfig, checker *health.Checker, layer *resilience.Resilience, logger observability.Logger) *adminServer {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.HandleFunc("/circuits", circuitsHandler(layer))
	mux.HandleFunc("/deadletters", deadLettersHandler(layer))

	return &adminServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (a *adminServer) start() {
	a.logger.Info("starting admin server", observability.String("addr", a.server.Addr))

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server failed", observability.Error(err))
		}
	}()
}

func (a *adminServer) stop(ctx context.Context) error {
	a.logger.Info("stopping admin server")
	return a.server.Shutdown(ctx)
}

// circuitsHandler reports the circuit state of every dependency seen so far.
func circuitsHandler(layer *resilience.Resilience) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := layer.States(r.Context())

		body := make(map[string]string, len(states))
		for dependency, state := range states {
			body[dependency] = state.String()
		}

		writeJSON(w, http.StatusOK, body)
	}
}

// deadLettersHandler lists captured dead-letter records, optionally filtered
// by the dependency, kind, and limit query parameters.
func deadLettersHandler(layer *resilience.Resilience) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := deadletter.Filter{
			Dependency:  r.URL.Query().Get("dependency"),
			FailureKind: r.URL.Query().Get("kind"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			filter.Limit = limit
		}

		records, err := layer.DeadLetters(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, records)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
