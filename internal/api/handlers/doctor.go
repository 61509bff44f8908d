package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/doctor"
)

// DoctorBackend is the part of the clinic API client the profile page uses
type DoctorBackend interface {
	DoctorProfile(ctx context.Context) (doctor.Profile, error)
	UpdateDoctorProfile(ctx context.Context, u doctor.ProfileUpdate) (doctor.Profile, error)
	DoctorProfileOptions(ctx context.Context) (doctor.Options, error)
	Specialties(ctx context.Context) ([]doctor.Specialty, error)
}

// DoctorHandler serves the signed-in doctor's profile page
type DoctorHandler struct {
	backend DoctorBackend
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewDoctorHandler creates a new handler
func NewDoctorHandler(b DoctorBackend, logger *zap.Logger) *DoctorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoctorHandler{backend: b, logger: logger, tracer: otel.Tracer("doctor-handler")}
}

// Routes returns the handler routes
func (h *DoctorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/profile", h.Profile)
	r.Patch("/profile", h.UpdateProfile)
	r.Get("/profile/options", h.Options)
	r.Get("/specialties", h.Specialties)
	return r
}

// Profile handles GET /doctor/profile
func (h *DoctorHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "get_doctor_profile")
	defer span.End()

	p, err := h.backend.DoctorProfile(ctx)
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doctor.NewView(p))
}

// UpdateProfile handles PATCH /doctor/profile
func (h *DoctorHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "update_doctor_profile")
	defer span.End()

	var u doctor.ProfileUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	if u.Empty() {
		jsonError(w, "nothing to update", http.StatusBadRequest)
		return
	}
	p, err := h.backend.UpdateDoctorProfile(ctx, u)
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doctor.NewView(p))
}

// Options handles GET /doctor/profile/options
func (h *DoctorHandler) Options(w http.ResponseWriter, r *http.Request) {
	o, err := h.backend.DoctorProfileOptions(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Specialties handles GET /doctor/specialties
func (h *DoctorHandler) Specialties(w http.ResponseWriter, r *http.Request) {
	list, err := h.backend.Specialties(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []doctor.Specialty{}
	}
	writeJSON(w, http.StatusOK, list)
}
