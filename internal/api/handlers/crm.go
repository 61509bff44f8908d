package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/crm"
)

// CRMHandler serves the super-admin user directory
type CRMHandler struct {
	dir    *crm.Directory
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCRMHandler creates a new handler
func NewCRMHandler(dir *crm.Directory, logger *zap.Logger) *CRMHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CRMHandler{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer("crm-handler"),
	}
}

// Routes returns the handler routes
func (h *CRMHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Route("/{role}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Add)
		r.Patch("/{userID}", h.Edit)
		r.Delete("/{userID}", h.Delete)
		r.Post("/{userID}/block", h.ToggleBlock)
	})
	return r
}

// Stats handles GET /crm/stats
func (h *CRMHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dir.Stats())
}

// List handles GET /crm/{role}?search=&status=. The role "all" returns
// every list.
func (h *CRMHandler) List(w http.ResponseWriter, r *http.Request) {
	q := crm.Query{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Status: crm.StatusFilter(r.URL.Query().Get("status")),
	}
	if raw := chi.URLParam(r, "role"); raw != "all" {
		role, err := crm.ParseRole(raw)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		q.Role = role
	}

	v, err := h.dir.Filter(q)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Add handles POST /crm/{role}
func (h *CRMHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "crm_add_user")
	defer span.End()

	role, err := crm.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var in crm.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.dir.Add(ctx, role, in)
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("role", string(role)), attribute.Int64("user_id", id))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "stats": h.dir.Stats()})
}

// Edit handles PATCH /crm/{role}/{userID}
func (h *CRMHandler) Edit(w http.ResponseWriter, r *http.Request) {
	role, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var p crm.Patch
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := h.dir.Edit(r.Context(), role, id, p); err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.dir.Stats())
}

// Delete handles DELETE /crm/{role}/{userID}
func (h *CRMHandler) Delete(w http.ResponseWriter, r *http.Request) {
	role, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.dir.Delete(r.Context(), role, id); err != nil {
		respondError(w, h.logger, err)
		return
	}
	h.logger.Info("crm user deleted", zap.String("role", string(role)), zap.Int64("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ToggleBlock handles POST /crm/{role}/{userID}/block
func (h *CRMHandler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	role, id, ok := h.target(w, r)
	if !ok {
		return
	}
	blocked, err := h.dir.ToggleBlock(r.Context(), role, id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": blocked, "stats": h.dir.Stats()})
}

func (h *CRMHandler) target(w http.ResponseWriter, r *http.Request) (crm.Role, int64, bool) {
	role, err := crm.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		respondError(w, h.logger, err)
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		jsonError(w, "invalid user id", http.StatusBadRequest)
		return "", 0, false
	}
	return role, id, true
}
