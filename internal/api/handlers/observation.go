package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/observation"
)

// ObservationHandler serves system load and the activity log
type ObservationHandler struct {
	sampler  *observation.Sampler
	activity observation.ActivitySource
	logger   *zap.Logger
}

// NewObservationHandler creates a new handler. activity may be nil when no
// database is configured.
func NewObservationHandler(s *observation.Sampler, activity observation.ActivitySource, logger *zap.Logger) *ObservationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationHandler{sampler: s, activity: activity, logger: logger}
}

// Routes returns the handler routes
func (h *ObservationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/metrics", h.Metrics)
	r.Post("/metrics/refresh", h.Refresh)
	r.Put("/auto-refresh", h.AutoRefresh)
	r.Get("/logs", h.Logs)
	r.Post("/logs", h.AddLog)
	return r
}

type metricsResponse struct {
	observation.Metrics
	AutoRefresh bool `json:"autoRefresh"`
}

// Metrics handles GET /observation/metrics
func (h *ObservationHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{Metrics: h.sampler.Metrics(), AutoRefresh: h.sampler.AutoRefresh()})
}

// Refresh handles POST /observation/metrics/refresh with one immediate tick
func (h *ObservationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	m := h.sampler.Tick()
	writeJSON(w, http.StatusOK, metricsResponse{Metrics: m, AutoRefresh: h.sampler.AutoRefresh()})
}

// AutoRefresh handles PUT /observation/auto-refresh {"enabled": bool}
func (h *ObservationHandler) AutoRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	h.sampler.SetAutoRefresh(in.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"autoRefresh": in.Enabled})
}

type logsResponse struct {
	Logs     []observation.LogEntry `json:"logs"`
	Activity []observation.LogEntry `json:"activity"`
}

// Logs handles GET /observation/logs?limit=. Persisted activity is left
// empty when the database cannot be read.
func (h *ObservationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activity, err := observation.Activity(r.Context(), h.activity, limit)
	if err != nil {
		h.logger.Warn("activity log unavailable", zap.Error(err))
		activity = []observation.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: h.sampler.Logs(), Activity: activity})
}

// AddLog handles POST /observation/logs
func (h *ObservationHandler) AddLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.sampler.AddLog())
}
