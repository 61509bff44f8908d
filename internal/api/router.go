// Package api assembles the records HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/api/handlers"
	"github.com/avishifo/records/internal/api/middleware"
	"github.com/avishifo/records/internal/domain/chathub"
	"github.com/avishifo/records/internal/domain/crm"
	"github.com/avishifo/records/internal/domain/observation"
	"github.com/avishifo/records/internal/domain/requests"
	"github.com/avishifo/records/internal/observability/metrics"
	"github.com/avishifo/records/internal/session"
	"github.com/avishifo/records/internal/store"
	"github.com/avishifo/records/pkg/circuitbreaker"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Deps are the components served by the router. Activity, Replays, Metrics,
// Breakers and Ready are optional.
type Deps struct {
	Service     string
	Patients    *store.PatientStore
	Directory   *crm.Directory
	Board       *requests.Board
	Chats       *chathub.Hub
	Sampler     *observation.Sampler
	Activity    observation.ActivitySource
	Doctor      handlers.DoctorBackend
	Handoff     *session.Handoff[session.SelectedDoctor]
	Replays     middleware.Replayer
	Metrics     middleware.HTTPObserver
	Gatherer    prometheus.Gatherer
	Breakers    *circuitbreaker.Group
	Ready       func(ctx context.Context) error
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the HTTP handler
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Service == "" {
		d.Service = "records-api"
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Handoff == nil {
		d.Handoff = session.NewHandoff[session.SelectedDoctor](session.DefaultHandoffTTL)
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.Service))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	r.Get("/health", healthHandler(d.Service))
	r.Get("/ready", readyHandler(d.Ready, d.Breakers))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerToken)
		r.Use(middleware.Idempotency(d.Replays, logger))

		r.Mount("/patients", handlers.NewPatientHandler(d.Patients, logger).Routes())
		r.Mount("/crm", handlers.NewCRMHandler(d.Directory, logger).Routes())
		r.Mount("/observation", handlers.NewObservationHandler(d.Sampler, d.Activity, logger).Routes())
		r.Mount("/requests", handlers.NewRequestsHandler(d.Board, logger).Routes())
		r.Mount("/chats", handlers.NewChatHandler(d.Chats, logger).Routes())
		r.Mount("/doctor", handlers.NewDoctorHandler(d.Doctor, logger).Routes())
		r.Mount("/handoff", handlers.NewHandoffHandler(d.Handoff, logger).Routes())
	})

	return r
}

func healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": service,
			"version": Version,
		})
	}
}

type readiness struct {
	Status   string                        `json:"status"`
	Error    string                        `json:"error,omitempty"`
	Breakers []circuitbreaker.Status `json:"breakers,omitempty"`
}

// readyHandler fails when ready fails. Open breakers are reported but do not
// fail readiness since the patient list can still be served offline.
func readyHandler(ready func(ctx context.Context) error, breakers *circuitbreaker.Group) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readiness{Status: "ready"}
		if breakers != nil {
			resp.Breakers = breakers.Snapshot()
		}
		code := http.StatusOK
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				resp.Status = "not ready"
				resp.Error = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
