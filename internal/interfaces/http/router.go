// Package http exposes the admin surface: health, Prometheus metrics, and
// read-only views of the performance and rollback state.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"contextgw-backend/internal/infrastructure/observability"
	"contextgw-backend/internal/orchestration"
	"contextgw-backend/internal/rollback"
)

// RouterDeps holds everything the admin router serves.
type RouterDeps struct {
	Orchestrator *orchestration.Orchestrator
	RollbackMgr  *rollback.Manager
	Collector    *observability.Collector
	Logger       *zap.Logger
}

// NewRouter builds the admin router.
func NewRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		deps.Collector.GetRegistry(),
		promhttp.HandlerOpts{},
	))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/performance/report", h.performanceReport)
		r.Get("/rollback/records", h.rollbackRecords)
	})
	return r
}

type handlers struct {
	deps   RouterDeps
	logger *zap.Logger
}

// health reports 200 when all thresholds hold and 503 with the warning list
// otherwise, so load balancers and probes can act on it directly.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Orchestrator.HealthCheck()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

func (h *handlers) performanceReport(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.deps.Orchestrator.GetPerformanceReport())
}

func (h *handlers) rollbackRecords(w http.ResponseWriter, r *http.Request) {
	states, err := h.deps.RollbackMgr.ListStates()
	if err != nil {
		h.logger.Error("Failed to list rollback records", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rollback records",
		})
		return
	}
	if states == nil {
		states = []rollback.RollbackState{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": states,
		"count":   len(states),
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
