package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/internal/store"
)

// maxUploadBytes caps multipart request bodies
const maxUploadBytes = 32 << 20

// PatientHandler serves the patient list, registration and owned collections
type PatientHandler struct {
	store  *store.PatientStore
	intake *IntakeHandler
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPatientHandler creates a new handler
func NewPatientHandler(s *store.PatientStore, logger *zap.Logger) *PatientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientHandler{
		store:  s,
		intake: NewIntakeHandler(s, logger),
		logger: logger,
		tracer: otel.Tracer("patient-handler"),
	}
}

// Routes returns the handler routes
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/reload", h.Reload)

	r.Route("/{id}", func(r chi.Router) {
		r.Use(h.loaded)
		r.Get("/", h.Get)
		r.Delete("/", h.ConfirmDelete)
		r.Post("/archive", h.Archive)
		r.Post("/unarchive", h.Unarchive)
		r.Post("/delete-request", h.RequestDelete)

		r.Get("/medications", h.Medications)
		r.Post("/medications", h.AddMedication)
		r.Delete("/medications/{itemID}", h.DeleteMedication)
		r.Get("/vitals", h.Vitals)
		r.Post("/vitals", h.AddVitals)
		r.Delete("/vitals/{itemID}", h.DeleteVitals)
		r.Get("/history", h.History)
		r.Post("/history", h.AddHistory)
		r.Delete("/history/{itemID}", h.DeleteHistory)
		r.Get("/history/{itemID}/form", h.HistoryForm)
		r.Get("/documents", h.Documents)
		r.Post("/documents", h.AddDocument)
		r.Delete("/documents/{itemID}", h.DeleteDocument)

		r.Mount("/intake", h.intake.Routes())
	})
	return r
}

// loaded makes sure the patient list exists before a per-patient route runs
func (h *PatientHandler) loaded(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.store.EnsureLoaded(r.Context()); err != nil {
			respondError(w, h.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listResponse wraps a snapshot for the list endpoints
type listResponse struct {
	store.Snapshot
	Total int `json:"total"`
}

func (h *PatientHandler) markOffline(w http.ResponseWriter) {
	if h.store.Offline() {
		w.Header().Set(OfflineHeader, "true")
	}
}

// filterFromQuery reads search, status and archived (true, only or all)
func filterFromQuery(r *http.Request) patient.Filter {
	q := r.URL.Query()
	f := patient.Filter{
		Search: strings.TrimSpace(q.Get("search")),
		Status: patient.Status(q.Get("status")),
	}
	switch q.Get("archived") {
	case "true", "only":
		f.ArchivedOnly = true
	case "all":
		f.IncludeArchived = true
	}
	return f
}

// List handles GET /patients. The list is loaded on first use.
func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "list_patients")
	defer span.End()

	if err := h.store.EnsureLoaded(ctx); err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	snap := h.store.List(filterFromQuery(r))
	span.SetAttributes(attribute.Int("patients", len(snap.Patients)), attribute.Bool("offline", snap.Offline))

	h.markOffline(w)
	writeJSON(w, http.StatusOK, listResponse{Snapshot: snap, Total: len(snap.Patients)})
}

// Reload handles POST /patients/reload
func (h *PatientHandler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "reload_patients")
	defer span.End()

	snap, err := h.store.Load(ctx)
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	h.markOffline(w)
	writeJSON(w, http.StatusOK, listResponse{Snapshot: snap, Total: len(snap.Patients)})
}

// Create handles POST /patients
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_patient")
	defer span.End()

	var form patient.NewPatientForm
	if !decodeJSON(w, r, &form) {
		return
	}
	if err := h.store.EnsureLoaded(ctx); err != nil {
		respondError(w, h.logger, err)
		return
	}
	p, err := h.store.Create(ctx, form)
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("patient_id", p.ID))
	h.logger.Info("patient registered", zap.String("patient_id", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /patients/{id}. With ?refresh=true the demographics and
// collections are refetched first.
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "get_patient")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("patient_id", id))

	var (
		p   patient.Patient
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		p, err = h.store.Refresh(ctx, id)
	} else {
		p, err = h.store.Get(id)
	}
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	h.markOffline(w)
	writeJSON(w, http.StatusOK, p)
}

// Archive handles POST /patients/{id}/archive
func (h *PatientHandler) Archive(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Unarchive handles POST /patients/{id}/unarchive
func (h *PatientHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Unarchive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RequestDelete handles POST /patients/{id}/delete-request
func (h *PatientHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.RequestDelete(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ConfirmDelete handles DELETE /patients/{id}?confirm=<token>
func (h *PatientHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "delete_patient")
	defer span.End()

	id := chi.URLParam(r, "id")
	if err := h.store.ConfirmDelete(ctx, id, r.URL.Query().Get("confirm")); err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	h.logger.Info("patient deleted", zap.String("patient_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Medications handles GET /patients/{id}/medications
func (h *PatientHandler) Medications(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.RefreshMedications(r.Context(), chi.URLParam(r, "id"))
	h.collection(w, list, err)
}

// AddMedication handles POST /patients/{id}/medications
func (h *PatientHandler) AddMedication(w http.ResponseWriter, r *http.Request) {
	var m patient.Medication
	if !decodeJSON(w, r, &m) {
		return
	}
	h.mutated(w, r, h.store.AddMedication(r.Context(), chi.URLParam(r, "id"), m))
}

// DeleteMedication handles DELETE /patients/{id}/medications/{itemID}
func (h *PatientHandler) DeleteMedication(w http.ResponseWriter, r *http.Request) {
	h.mutated(w, r, h.store.DeleteMedication(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID")))
}

// Vitals handles GET /patients/{id}/vitals
func (h *PatientHandler) Vitals(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.RefreshVitals(r.Context(), chi.URLParam(r, "id"))
	h.collection(w, list, err)
}

// AddVitals handles POST /patients/{id}/vitals
func (h *PatientHandler) AddVitals(w http.ResponseWriter, r *http.Request) {
	var v patient.VitalSign
	if !decodeJSON(w, r, &v) {
		return
	}
	h.mutated(w, r, h.store.AddVitals(r.Context(), chi.URLParam(r, "id"), v))
}

// DeleteVitals handles DELETE /patients/{id}/vitals/{itemID}
func (h *PatientHandler) DeleteVitals(w http.ResponseWriter, r *http.Request) {
	h.mutated(w, r, h.store.DeleteVitals(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID")))
}

// History handles GET /patients/{id}/history
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.RefreshHistory(r.Context(), chi.URLParam(r, "id"))
	h.collection(w, list, err)
}

// AddHistory handles POST /patients/{id}/history
func (h *PatientHandler) AddHistory(w http.ResponseWriter, r *http.Request) {
	var e patient.HistoryEntry
	if !decodeJSON(w, r, &e) {
		return
	}
	h.mutated(w, r, h.store.AddHistory(r.Context(), chi.URLParam(r, "id"), e))
}

// DeleteHistory handles DELETE /patients/{id}/history/{itemID}
func (h *PatientHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	h.mutated(w, r, h.store.DeleteHistory(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID")))
}

// HistoryForm handles GET /patients/{id}/history/{itemID}/form
func (h *PatientHandler) HistoryForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.store.HistoryForm(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// Documents handles GET /patients/{id}/documents
func (h *PatientHandler) Documents(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.RefreshDocuments(r.Context(), chi.URLParam(r, "id"))
	h.collection(w, list, err)
}

// AddDocument handles multipart POST /patients/{id}/documents with fields
// name, type, date and a "file" part
func (h *PatientHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	d := patient.Document{
		Name: r.FormValue("name"),
		Type: r.FormValue("type"),
	}
	if raw := r.FormValue("date"); raw != "" {
		date, err := patient.ParseDate(raw)
		if err != nil {
			jsonError(w, "invalid date", http.StatusBadRequest)
			return
		}
		d.Date = date
	}

	var content []byte
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		content, err = io.ReadAll(file)
		if err != nil {
			jsonError(w, "unreadable file", http.StatusBadRequest)
			return
		}
		if d.Name == "" {
			d.Name = header.Filename
		}
	case err != http.ErrMissingFile:
		jsonError(w, "invalid file part", http.StatusBadRequest)
		return
	}

	h.mutated(w, r, h.store.AddDocument(r.Context(), chi.URLParam(r, "id"), d, content))
}

// DeleteDocument handles DELETE /patients/{id}/documents/{itemID}
func (h *PatientHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	h.mutated(w, r, h.store.DeleteDocument(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID")))
}

func (h *PatientHandler) collection(w http.ResponseWriter, list interface{}, err error) {
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// mutated answers a collection change with the refreshed patient
func (h *PatientHandler) mutated(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	p, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	code := http.StatusOK
	if r.Method == http.MethodPost {
		code = http.StatusCreated
	}
	writeJSON(w, code, p)
}
