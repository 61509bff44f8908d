package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/store"
)

// IntakeHandler serves the clinical intake forms of one patient. It is
// mounted under /patients/{id}/intake.
type IntakeHandler struct {
	store  *store.PatientStore
	logger *zap.Logger
	tracer trace.Tracer
}

// NewIntakeHandler creates a new handler
func NewIntakeHandler(s *store.PatientStore, logger *zap.Logger) *IntakeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeHandler{
		store:  s,
		logger: logger,
		tracer: otel.Tracer("intake-handler"),
	}
}

// Routes returns the handler routes
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Submit)
	r.Get("/{intakeID}/edit", h.Edit)
	r.Put("/{intakeID}", h.Update)
	return r
}

// List handles GET /patients/{id}/intake
func (h *IntakeHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Intakes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []intake.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Edit handles GET /patients/{id}/intake/{intakeID}/edit and returns the
// stored record as an editable form
func (h *IntakeHandler) Edit(w http.ResponseWriter, r *http.Request) {
	form, err := h.store.IntakeForEdit(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "intakeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// Submit handles POST /patients/{id}/intake. The body is either the clinic
// multipart form or a JSON record.
func (h *IntakeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "submit_intake")
	defer span.End()

	patientID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("patient_id", patientID))

	input, ok := h.readForm(w, r)
	if !ok {
		return
	}

	var saved intake.Record
	err := h.run(ctx, patientID, nil, input, func(ctx context.Context, pid string, rec intake.Record) error {
		var err error
		saved, err = h.store.SubmitIntake(ctx, pid, rec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	h.logger.Info("intake submitted", zap.String("patient_id", patientID), zap.String("intake_id", saved.ID))
	writeJSON(w, http.StatusCreated, saved)
}

// Update handles PUT /patients/{id}/intake/{intakeID}. Stored files are kept;
// files in the request are added to them.
func (h *IntakeHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "update_intake")
	defer span.End()

	patientID := chi.URLParam(r, "id")
	intakeID := chi.URLParam(r, "intakeID")
	span.SetAttributes(attribute.String("patient_id", patientID), attribute.String("intake_id", intakeID))

	input, ok := h.readForm(w, r)
	if !ok {
		return
	}
	stored, err := h.store.IntakeForEdit(ctx, patientID, intakeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var saved intake.Record
	err = h.run(ctx, patientID, &stored, input, func(ctx context.Context, pid string, rec intake.Record) error {
		var err error
		saved, err = h.store.UpdateIntake(ctx, pid, intakeID, rec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		respondError(w, h.logger, err)
		return
	}
	h.logger.Info("intake updated", zap.String("patient_id", patientID), zap.String("intake_id", intakeID))
	writeJSON(w, http.StatusOK, saved)
}

// run drives one dialog from open to submitted
func (h *IntakeHandler) run(ctx context.Context, patientID string, prefill *intake.Record, input formInput, send intake.SendFunc) error {
	d := intake.NewDialog()
	if err := d.Open(prefill); err != nil {
		return err
	}
	if err := d.Edit(func(f *intake.Record) error { return applyForm(f, input) }); err != nil {
		return err
	}
	return d.Submit(ctx, patientID, send)
}

// formInput is one submitted intake form: the decoded record plus the text
// fields outside the system blocks that the body actually carried
type formInput struct {
	record intake.Record
	patch  intake.Patch
}

// intakeBody decodes a JSON record, tracking which basic fields were sent
type intakeBody struct {
	intake.Record
	Basic                 intake.BasicPatch `json:"basic"`
	DoctorRecommendations *string           `json:"doctorRecommendations"`
}

// applyForm copies the submitted fields onto the open form. Fields and
// symptoms absent from the input keep their current text.
func applyForm(f *intake.Record, in formInput) error {
	in.patch.Apply(f)
	f.AttachSystemic(in.record.SystemicFiles...)
	for s, b := range in.record.Systems {
		for sym, text := range b.Fields {
			if err := f.SetSymptom(s, sym, text); err != nil {
				return err
			}
		}
		if err := f.Attach(s, b.Files...); err != nil {
			return err
		}
	}
	return nil
}

func (h *IntakeHandler) readForm(w http.ResponseWriter, r *http.Request) (formInput, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		var body intakeBody
		if !decodeJSON(w, r, &body) {
			return formInput{}, false
		}
		return formInput{
			record: body.Record,
			patch:  intake.Patch{Basic: body.Basic, DoctorRecommendations: body.DoctorRecommendations},
		}, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return formInput{}, false
	}
	files := make(map[string][]intake.Attachment, len(r.MultipartForm.File))
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				jsonError(w, "unreadable file "+fh.Filename, http.StatusBadRequest)
				return formInput{}, false
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				jsonError(w, "unreadable file "+fh.Filename, http.StatusBadRequest)
				return formInput{}, false
			}
			files[field] = append(files[field], intake.Attachment{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Data:        data,
			})
		}
	}
	_, rec := intake.DecodeForm(r.MultipartForm.Value, files)
	return formInput{record: rec, patch: intake.PatchFromForm(r.MultipartForm.Value)}, true
}
