// Package intake models the multi-system clinical intake form ("kasallik tarixi").
package intake

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/internal/domain/validation"
)

var (
	ErrMissingPatientReference = errors.New("intake record requires a patient reference")
	ErrUnknownField            = errors.New("unknown intake field")
)

// HistoryType is the history entry type for intake summaries.
const HistoryType = "Kasallik tarixi"

const defaultDiagnosis = "Kompleks tekshiruv"

// Basic is the demographics and chief complaint block.
type Basic struct {
	FISH             string `json:"fish"`
	BirthDate        string `json:"birthDate"`
	Nationality      string `json:"nationality"`
	Education        string `json:"education"`
	Profession       string `json:"profession"`
	Workplace        string `json:"workplace"`
	WorkPosition     string `json:"workPosition"`
	HomeAddress      string `json:"homeAddress"`
	VisitDate        string `json:"visitDate"`
	MainComplaints   string `json:"mainComplaints"`
	SystemicDiseases string `json:"systemicDiseases"`
}

// BasicPatch holds the basic fields a submission carried. Nil fields keep
// the form's current value.
type BasicPatch struct {
	FISH             *string `json:"fish"`
	BirthDate        *string `json:"birthDate"`
	Nationality      *string `json:"nationality"`
	Education        *string `json:"education"`
	Profession       *string `json:"profession"`
	Workplace        *string `json:"workplace"`
	WorkPosition     *string `json:"workPosition"`
	HomeAddress      *string `json:"homeAddress"`
	VisitDate        *string `json:"visitDate"`
	MainComplaints   *string `json:"mainComplaints"`
	SystemicDiseases *string `json:"systemicDiseases"`
}

// Patch is the text outside the system blocks that a submission carried
type Patch struct {
	Basic                 BasicPatch
	DoctorRecommendations *string
}

// Apply copies the present fields onto r
func (p Patch) Apply(r *Record) {
	b := &r.Basic
	for _, f := range []struct {
		dst *string
		v   *string
	}{
		{&b.FISH, p.Basic.FISH},
		{&b.BirthDate, p.Basic.BirthDate},
		{&b.Nationality, p.Basic.Nationality},
		{&b.Education, p.Basic.Education},
		{&b.Profession, p.Basic.Profession},
		{&b.Workplace, p.Basic.Workplace},
		{&b.WorkPosition, p.Basic.WorkPosition},
		{&b.HomeAddress, p.Basic.HomeAddress},
		{&b.VisitDate, p.Basic.VisitDate},
		{&b.MainComplaints, p.Basic.MainComplaints},
		{&b.SystemicDiseases, p.Basic.SystemicDiseases},
		{&r.DoctorRecommendations, p.DoctorRecommendations},
	} {
		if f.v != nil {
			*f.dst = *f.v
		}
	}
}

// Attachment is a file attached to a system block. Data is only set for files
// that still need uploading; stored files carry a URL instead.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
}

// Pending reports whether the attachment still has to be uploaded.
func (a Attachment) Pending() bool {
	return a.Data != nil
}

// Block is one body-system section: symptom texts plus one file list.
type Block struct {
	Fields map[Symptom]string `json:"fields"`
	Files  []Attachment       `json:"files,omitempty"`
}

// Record is a structured intake submission. Every field is stored natively.
type Record struct {
	ID                    string           `json:"id,omitempty"`
	PatientID             string           `json:"patientId,omitempty"`
	Basic                 Basic            `json:"basic"`
	Systems               map[System]Block `json:"systems"`
	DoctorRecommendations string           `json:"doctorRecommendations"`
	SystemicFiles         []Attachment     `json:"systemicFiles,omitempty"`
	SubmittedAt           time.Time        `json:"submittedAt,omitempty"`
}

// NewRecord returns an empty record with every system block present.
func NewRecord() Record {
	r := Record{Systems: make(map[System]Block, len(schema))}
	for _, spec := range schema {
		r.Systems[spec.system] = Block{Fields: make(map[Symptom]string, len(spec.symptoms))}
	}
	return r
}

// Symptom returns the text of one symptom field.
func (r Record) Symptom(s System, sym Symptom) string {
	return r.Systems[s].Fields[sym]
}

// SetSymptom stores a symptom text. Unknown systems or symptoms are rejected.
func (r *Record) SetSymptom(s System, sym Symptom, value string) error {
	spec, ok := lookupSystem(s)
	if !ok || !spec.hasSymptom(sym) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s, sym)
	}
	r.ensure()
	b := r.Systems[s]
	if b.Fields == nil {
		b.Fields = make(map[Symptom]string)
	}
	b.Fields[sym] = value
	r.Systems[s] = b
	return nil
}

// Attach adds files to a system's single file list, skipping duplicates.
func (r *Record) Attach(s System, files ...Attachment) error {
	if _, ok := lookupSystem(s); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, s)
	}
	r.ensure()
	b := r.Systems[s]
	b.Files = appendUnique(b.Files, files...)
	r.Systems[s] = b
	return nil
}

// Files returns the file list of one system.
func (r Record) Files(s System) []Attachment {
	return r.Systems[s].Files
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := r
	c.Systems = make(map[System]Block, len(r.Systems))
	for s, b := range r.Systems {
		nb := Block{Fields: make(map[Symptom]string, len(b.Fields))}
		for k, v := range b.Fields {
			nb.Fields[k] = v
		}
		nb.Files = append([]Attachment(nil), b.Files...)
		c.Systems[s] = nb
	}
	c.SystemicFiles = append([]Attachment(nil), r.SystemicFiles...)
	return c
}

func (r *Record) ensure() {
	if r.Systems == nil {
		r.Systems = make(map[System]Block, len(schema))
	}
}

func appendUnique(list []Attachment, files ...Attachment) []Attachment {
	for _, f := range files {
		dup := false
		for _, existing := range list {
			if existing.Name == f.Name && existing.Size == f.Size && existing.URL == f.URL {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, f)
		}
	}
	return list
}

// Validate requires the visit date and main complaints. Unknown systems or
// symptoms are reported as ErrUnknownField.
func Validate(r Record) error {
	for s, b := range r.Systems {
		spec, ok := lookupSystem(s)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, s)
		}
		for sym := range b.Fields {
			if !spec.hasSymptom(sym) {
				return fmt.Errorf("%w: %s.%s", ErrUnknownField, s, sym)
			}
		}
	}
	return validation.Required(
		validation.Field{Name: "visitDate", Value: r.Basic.VisitDate},
		validation.Field{Name: "mainComplaints", Value: r.Basic.MainComplaints},
	)
}

// ReadyToSubmit checks the patient reference and then the form itself.
func ReadyToSubmit(patientID string, r Record) error {
	if strings.TrimSpace(patientID) == "" {
		return ErrMissingPatientReference
	}
	return Validate(r)
}

// LoadForEdit returns a form prefilled from a stored record. Stored files are
// kept as references; only newly attached files are uploaded on save.
func LoadForEdit(r Record) Record {
	form := NewRecord()
	stored := r.Clone()
	form.ID = stored.ID
	form.PatientID = stored.PatientID
	form.Basic = stored.Basic
	form.DoctorRecommendations = stored.DoctorRecommendations
	form.SystemicFiles = stored.SystemicFiles
	form.SubmittedAt = stored.SubmittedAt
	for s, b := range stored.Systems {
		form.Systems[s] = b
	}
	return form
}

// Summarize builds the history entry shown for an intake record.
func Summarize(r Record) patient.HistoryEntry {
	diagnosis := defaultDiagnosis
	if first, _, _ := strings.Cut(strings.TrimSpace(r.Basic.MainComplaints), "\n"); strings.TrimSpace(first) != "" {
		diagnosis = strings.TrimSpace(first)
	}

	date := patient.NewDate(r.SubmittedAt)
	if r.SubmittedAt.IsZero() {
		if d, err := patient.ParseDate(r.Basic.VisitDate); err == nil {
			date = d
		}
	}

	var docs []string
	for _, a := range r.SystemicFiles {
		docs = append(docs, a.Name)
	}
	systems := make([]string, 0, len(r.Systems))
	for s := range r.Systems {
		systems = append(systems, string(s))
	}
	sort.Strings(systems)
	for _, s := range systems {
		for _, a := range r.Systems[System(s)].Files {
			docs = append(docs, a.Name)
		}
	}

	return patient.HistoryEntry{
		ID:        "hist-" + r.ID,
		Date:      date,
		Type:      HistoryType,
		Diagnosis: diagnosis,
		Notes:     RenderNotes(r),
		Documents: docs,
		IntakeID:  r.ID,
	}
}

// AttachSystemic adds files to the systemic diseases list, skipping duplicates.
func (r *Record) AttachSystemic(files ...Attachment) {
	r.SystemicFiles = appendUnique(r.SystemicFiles, files...)
}
