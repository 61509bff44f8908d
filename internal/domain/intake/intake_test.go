package intake

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"strings"
	"testing"
	"time"

	"github.com/avishifo/records/internal/domain/validation"
)

func filledRecord() Record {
	r := NewRecord()
	r.Basic = Basic{
		FISH:           "Karimov Aziz",
		Nationality:    "O'zbek",
		VisitDate:      "2025-02-01",
		MainComplaints: "Bosh og'rig'i\nUyqusizlik",
	}
	r.DoctorRecommendations = "Dam olish"
	_ = r.SetSymptom(Respiratory, Cough, "Quruq yo'tal")
	_ = r.SetSymptom(Cardiovascular, General, "Hansirash")
	_ = r.SetSymptom(Musculoskeletal, General, "Bel og'rig'i")
	return r
}

func TestValidate(t *testing.T) {
	r := NewRecord()
	err := Validate(r)
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Fields) != 2 || verr.Fields[0] != "visitDate" || verr.Fields[1] != "mainComplaints" {
		t.Errorf("fields = %v", verr.Fields)
	}

	if err := Validate(filledRecord()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	r = filledRecord()
	r.Systems[Urinary].Fields["cough"] = "x"
	if err := Validate(r); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected unknown field, got %v", err)
	}
}

func TestReadyToSubmitRequiresPatient(t *testing.T) {
	if err := ReadyToSubmit(" ", filledRecord()); !errors.Is(err, ErrMissingPatientReference) {
		t.Errorf("expected missing patient reference, got %v", err)
	}
	if err := ReadyToSubmit("42", filledRecord()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetSymptomRejectsUnknown(t *testing.T) {
	r := NewRecord()
	if err := r.SetSymptom(Urinary, Cough, "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected unknown field, got %v", err)
	}
	if err := r.Attach(System("skin")); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected unknown system, got %v", err)
	}
}

func TestEncodeMultipartAttachesFilesOnce(t *testing.T) {
	r := filledRecord()
	xray := Attachment{Name: "xray.png", ContentType: "image/png", Size: 3, Data: []byte{1, 2, 3}}
	_ = r.Attach(Respiratory, xray, xray)
	_ = r.Attach(Respiratory, Attachment{Name: "old.pdf", URL: "/media/old.pdf"})
	_ = r.Attach(Musculoskeletal, Attachment{Name: "mri.pdf", Data: []byte("pdf")})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := EncodeMultipart(mw, "42", r); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	form, err := multipart.NewReader(&buf, mw.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}

	if got := form.Value["patient"]; len(got) != 1 || got[0] != "42" {
		t.Errorf("patient = %v", got)
	}
	if got := form.Value["yotal"]; len(got) != 1 || got[0] != "Quruq yo'tal" {
		t.Errorf("yotal = %v", got)
	}
	if got := form.Value["tayanch_harakat"]; len(got) != 1 || got[0] != "Bel og'rig'i" {
		t.Errorf("tayanch_harakat = %v", got)
	}
	if got := form.File["nafas_tizimi_hujjat"]; len(got) != 1 || got[0].Filename != "xray.png" {
		t.Errorf("respiratory files = %v", got)
	}
	if got := form.File["tayanch_harat_hujjat"]; len(got) != 1 {
		t.Errorf("musculoskeletal files = %v", got)
	}
	for key := range form.File {
		if key == "yotal_hujjat" || key == "balgam_hujjat" {
			t.Errorf("per-symptom file field %s should not be sent", key)
		}
	}
}

func TestDecodeFormFoldsSymptomFiles(t *testing.T) {
	values := map[string][]string{
		"patient":      {"7"},
		"kelgan_vaqti": {"2025-02-01"},
		"shikoyatlar":  {"Yo'tal"},
		"yotal":        {"Kuchli"},
	}
	scan := Attachment{Name: "scan.jpg", Size: 10, Data: []byte("0123456789")}
	files := map[string][]Attachment{
		"nafas_tizimi_hujjat": {scan},
		"yotal_hujjat":        {scan},
		"balgam_hujjat":       {{Name: "lab.pdf", Size: 4, Data: []byte("lab!")}},
	}

	patientID, r := DecodeForm(values, files)
	if patientID != "7" || r.PatientID != "7" {
		t.Errorf("patient = %q", patientID)
	}
	if r.Symptom(Respiratory, Cough) != "Kuchli" {
		t.Errorf("cough = %q", r.Symptom(Respiratory, Cough))
	}
	if got := r.Files(Respiratory); len(got) != 2 {
		t.Errorf("respiratory files = %d, want 2", len(got))
	}
}

func TestFormPresence(t *testing.T) {
	values := map[string][]string{
		"shikoyatlar":            {"Bosh og'rig'i"},
		"millati":                {""},
		"balgam":                 {"oz"},
		"doctor_recommendations": {"Dam olish"},
	}
	_, r := DecodeForm(values, nil)
	if _, ok := r.Systems[Respiratory].Fields[Cough]; ok {
		t.Errorf("absent cough decoded as %q", r.Symptom(Respiratory, Cough))
	}

	stored := NewRecord()
	stored.Basic = Basic{FISH: "Karimov Aziz", Nationality: "O'zbek", VisitDate: "2025-05-19", MainComplaints: "Yo'tal"}
	stored.DoctorRecommendations = "Kuzatuv"
	PatchFromForm(values).Apply(&stored)

	want := Basic{FISH: "Karimov Aziz", VisitDate: "2025-05-19", MainComplaints: "Bosh og'rig'i"}
	if stored.Basic != want {
		t.Errorf("basic = %+v, want %+v", stored.Basic, want)
	}
	if stored.DoctorRecommendations != "Dam olish" {
		t.Errorf("recommendations = %q", stored.DoctorRecommendations)
	}
}

func TestFromServerAliases(t *testing.T) {
	obj := map[string]interface{}{
		"id":                  float64(15),
		"patient":             float64(42),
		"fish":                "Karimov Aziz",
		"kelgan_vaqti":        "2025-02-01",
		"shikoyatlar":         "Bosh og'rig'i",
		"tayanch_tizimi":      "Bel",
		"doktor_tavsiyalari":  "Dam olish",
		"yuborilgan_vaqt":     "2025-02-01T10:30:00Z",
		"nafas_tizimi_hujjat": "/media/intake/xray.png",
		"yotal_hujjat":        "/media/intake/xray.png",
	}

	r := FromServer(obj)
	if r.ID != "15" || r.PatientID != "42" {
		t.Errorf("ids = %q %q", r.ID, r.PatientID)
	}
	if r.Symptom(Musculoskeletal, General) != "Bel" {
		t.Errorf("musculoskeletal = %q", r.Symptom(Musculoskeletal, General))
	}
	if r.DoctorRecommendations != "Dam olish" {
		t.Errorf("recommendations = %q", r.DoctorRecommendations)
	}
	if !r.SubmittedAt.Equal(time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("submitted at = %v", r.SubmittedAt)
	}
	files := r.Files(Respiratory)
	if len(files) != 1 || files[0].Name != "xray.png" || files[0].Pending() {
		t.Errorf("respiratory files = %+v", files)
	}
}

func TestLoadForEditRoundTripsStructuredFields(t *testing.T) {
	stored := filledRecord()
	stored.ID = "15"
	stored.Basic.FISH = "Millati: Rus"
	stored.Basic.MainComplaints = "line one\nline two"

	form := LoadForEdit(stored)
	if form.Basic != stored.Basic {
		t.Errorf("basic block changed: %+v", form.Basic)
	}
	if form.Symptom(Respiratory, Cough) != "Quruq yo'tal" {
		t.Errorf("cough = %q", form.Symptom(Respiratory, Cough))
	}
	form.Basic.FISH = "changed"
	_ = form.SetSymptom(Respiratory, Cough, "changed")
	if stored.Symptom(Respiratory, Cough) != "Quruq yo'tal" {
		t.Error("edit form shares state with stored record")
	}
}

func TestLegacyNotesAreLossy(t *testing.T) {
	r := filledRecord()
	r.Basic.FISH = "Millati: Rus"
	r.Basic.Nationality = "O'zbek"

	notes := RenderNotes(r)
	if !strings.HasPrefix(notes, "ASOSIY MA'LUMOTLAR:\nF.I.SH: Millati: Rus\n") {
		t.Fatalf("unexpected notes header:\n%s", notes)
	}
	if !strings.Contains(notes, "Ish joyi: "+NotSpecified) {
		t.Error("empty values should render as not specified")
	}

	parsed := ParseLegacyNotes(notes)
	if parsed.Basic.Nationality != "Rus" {
		t.Errorf("nationality = %q, expected the label collision to leak", parsed.Basic.Nationality)
	}
	if parsed.Basic.MainComplaints != "Bosh og'rig'i" {
		t.Errorf("complaints = %q, expected truncation at newline", parsed.Basic.MainComplaints)
	}
	if parsed.Basic.Workplace != NotSpecified {
		t.Errorf("workplace = %q", parsed.Basic.Workplace)
	}
	if parsed.Symptom(Respiratory, Cough) != "Quruq yo'tal" {
		t.Errorf("cough = %q", parsed.Symptom(Respiratory, Cough))
	}
	if parsed.Symptom(Cardiovascular, General) != "Hansirash" {
		t.Errorf("cardiovascular general = %q", parsed.Symptom(Cardiovascular, General))
	}
	if parsed.Symptom(Musculoskeletal, General) != "Bel og'rig'i" {
		t.Errorf("musculoskeletal = %q", parsed.Symptom(Musculoskeletal, General))
	}
	if parsed.DoctorRecommendations != "Dam olish" {
		t.Errorf("recommendations = %q", parsed.DoctorRecommendations)
	}
}

func TestSummarize(t *testing.T) {
	r := filledRecord()
	r.ID = "15"
	_ = r.Attach(Nervous, Attachment{Name: "eeg.pdf", URL: "/media/eeg.pdf"})

	h := Summarize(r)
	if h.ID != "hist-15" || h.IntakeID != "15" || h.Type != HistoryType {
		t.Errorf("entry = %+v", h)
	}
	if h.Diagnosis != "Bosh og'rig'i" {
		t.Errorf("diagnosis = %q", h.Diagnosis)
	}
	if h.Date.String() != "2025-02-01" {
		t.Errorf("date = %s", h.Date)
	}
	if len(h.Documents) != 1 || h.Documents[0] != "eeg.pdf" {
		t.Errorf("documents = %v", h.Documents)
	}

	r.Basic.MainComplaints = ""
	if got := Summarize(r).Diagnosis; got != "Kompleks tekshiruv" {
		t.Errorf("default diagnosis = %q", got)
	}
}

func TestDialogLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewDialog()

	if err := d.Submit(ctx, "42", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit while closed: %v", err)
	}
	if err := d.Open(nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Open(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double open: %v", err)
	}

	sent := 0
	send := func(ctx context.Context, patientID string, r Record) error {
		sent++
		return nil
	}

	if err := d.Submit(ctx, "42", send); !errors.Is(err, validation.ErrMissingRequiredField) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if d.State() != StateOpen || d.Err() == nil || sent != 0 {
		t.Errorf("state after failed validation = %s, err %v, sent %d", d.State(), d.Err(), sent)
	}

	_ = d.Edit(func(r *Record) error {
		r.Basic.VisitDate = "2025-02-01"
		r.Basic.MainComplaints = "Isitma"
		return nil
	})

	failing := func(ctx context.Context, patientID string, r Record) error {
		return errors.New("backend down")
	}
	if err := d.Submit(ctx, "42", failing); err == nil {
		t.Fatal("expected send failure")
	}
	if d.State() != StateOpen || d.Form().Basic.MainComplaints != "Isitma" {
		t.Error("form should survive a failed send")
	}

	if err := d.Submit(ctx, "42", send); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.State() != StateClosed || sent != 1 || d.Err() != nil {
		t.Errorf("state = %s, sent = %d", d.State(), sent)
	}
}

func TestDialogEditPrefilledAndCancel(t *testing.T) {
	stored := filledRecord()
	stored.ID = "15"

	d := NewDialog()
	if err := d.Open(&stored); err != nil {
		t.Fatal(err)
	}
	if !d.Editing() || d.Form().Basic.FISH != "Karimov Aziz" {
		t.Error("prefilled form not loaded")
	}

	var got Record
	err := d.Submit(context.Background(), "42", func(ctx context.Context, patientID string, r Record) error {
		got = r
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "15" || got.PatientID != "42" {
		t.Errorf("sent record ids = %q %q", got.ID, got.PatientID)
	}

	_ = d.Open(nil)
	if err := d.Cancel(); err != nil || d.State() != StateClosed {
		t.Errorf("cancel: %v, state %s", err, d.State())
	}
	if err := d.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel while closed: %v", err)
	}
}
