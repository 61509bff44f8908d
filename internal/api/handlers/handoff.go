package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/validation"
	"github.com/avishifo/records/internal/session"
)

// HandoffHandler passes the selected doctor from the doctor list to the
// booking view
type HandoffHandler struct {
	doctors *session.Handoff[session.SelectedDoctor]
	logger  *zap.Logger
}

// NewHandoffHandler creates a new handler
func NewHandoffHandler(doctors *session.Handoff[session.SelectedDoctor], logger *zap.Logger) *HandoffHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffHandler{doctors: doctors, logger: logger}
}

// Routes returns the handler routes
func (h *HandoffHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/doctor", h.PutDoctor)
	r.Get("/doctor/{token}", h.TakeDoctor)
	return r
}

// PutDoctor handles POST /handoff/doctor and returns the redeem token
func (h *HandoffHandler) PutDoctor(w http.ResponseWriter, r *http.Request) {
	var d session.SelectedDoctor
	if !decodeJSON(w, r, &d) {
		return
	}
	if err := validation.Required(
		validation.Field{Name: "id", Value: d.ID},
		validation.Field{Name: "name", Value: d.Name},
	); err != nil {
		respondError(w, h.logger, err)
		return
	}
	d.Name = strings.TrimSpace(d.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"token": h.doctors.Put(d)})
}

// TakeDoctor handles GET /handoff/doctor/{token}. A token redeems once.
func (h *HandoffHandler) TakeDoctor(w http.ResponseWriter, r *http.Request) {
	d, err := h.doctors.Take(chi.URLParam(r, "token"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
