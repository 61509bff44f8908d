// Package patient implements the patient record aggregate and its owned collections.
package patient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avishifo/records/internal/domain/validation"
)

// Status is the clinical summary label shown on the patient card.
// It is a free-form label; the constants are the values the service assigns itself.
type Status string

const (
	StatusObservation     Status = "Наблюдение"
	StatusActiveTreatment Status = "Активное лечение"
	StatusNew             Status = "Новый пациент"
)

// StatusColor is a presentation tag paired with Status.
type StatusColor string

const (
	ColorAmber StatusColor = "amber"
	ColorBlue  StatusColor = "blue"
	ColorGreen StatusColor = "green"
)

// Defaults applied to records that come from the clinic API without a summary.
const (
	DefaultDiagnosis = "Первичный осмотр"
	UnknownLabel     = "Не указан"
)

// julianYear is 365.25 days.
const julianYear = 8766 * time.Hour

// Age is a patient's age in whole years, or unknown.
type Age struct {
	Years int
	Known bool
}

// AgeAt derives the age on now from a birth date. A zero birth date is unknown.
func AgeAt(birth Date, now time.Time) Age {
	if birth.IsZero() || birth.After(now) {
		return Age{}
	}
	return Age{Years: int(now.Sub(birth.Time) / julianYear), Known: true}
}

func (a Age) String() string {
	if !a.Known {
		return UnknownLabel
	}
	return strconv.Itoa(a.Years)
}

// MarshalJSON writes a number when known and the "unknown" label otherwise.
func (a Age) MarshalJSON() ([]byte, error) {
	if !a.Known {
		return json.Marshal(UnknownLabel)
	}
	return json.Marshal(a.Years)
}

// UnmarshalJSON accepts either form written by MarshalJSON.
func (a *Age) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*a = Age{Years: n, Known: true}
		return nil
	}
	*a = Age{}
	return nil
}

// Patient is the aggregate held by the record store.
type Patient struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Age               Age            `json:"age"`
	BirthDate         Date           `json:"birthDate"`
	Gender            string         `json:"gender"`
	Phone             string         `json:"phone"`
	Email             string         `json:"email"`
	Address           string         `json:"address"`
	BloodType         string         `json:"bloodType"`
	Insurance         string         `json:"insurance"`
	LastDiagnosis     string         `json:"lastDiagnosis"`
	ChronicConditions []string       `json:"chronicConditions"`
	Allergies         []string       `json:"allergies"`
	Status            Status         `json:"status"`
	StatusColor       StatusColor    `json:"statusColor"`
	LastVisit         *time.Time     `json:"lastVisit,omitempty"`
	NextAppointment   *time.Time     `json:"nextAppointment,omitempty"`
	Archived          bool           `json:"archived"`
	Medications       []Medication   `json:"medications"`
	Vitals            []VitalSign    `json:"vitals"`
	History           []HistoryEntry `json:"history"`
	Documents         []Document     `json:"documents"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (p Patient) Clone() Patient {
	c := p
	c.ChronicConditions = append([]string(nil), p.ChronicConditions...)
	c.Allergies = append([]string(nil), p.Allergies...)
	c.Medications = append([]Medication(nil), p.Medications...)
	c.Vitals = append([]VitalSign(nil), p.Vitals...)
	c.Documents = append([]Document(nil), p.Documents...)
	c.History = make([]HistoryEntry, len(p.History))
	for i, h := range p.History {
		h.Documents = append([]string(nil), h.Documents...)
		c.History[i] = h
	}
	if p.LastVisit != nil {
		t := *p.LastVisit
		c.LastVisit = &t
	}
	if p.NextAppointment != nil {
		t := *p.NextAppointment
		c.NextAppointment = &t
	}
	return c
}

// Medication is a prescription owned by one patient.
type Medication struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Time      string `json:"time"`
	Refill    string `json:"refill"`
}

// Validate checks the required medication fields.
func (m Medication) Validate() error {
	return validation.Required(
		validation.Field{Name: "name", Value: m.Name},
		validation.Field{Name: "dosage", Value: m.Dosage},
		validation.Field{Name: "frequency", Value: m.Frequency},
	)
}

// VitalSign is one reading. Either BP or Systolic/Diastolic must be given.
type VitalSign struct {
	ID               string  `json:"id"`
	Date             Date    `json:"date"`
	BP               string  `json:"bp"`
	Systolic         int     `json:"systolic,omitempty"`
	Diastolic        int     `json:"diastolic,omitempty"`
	Pulse            int     `json:"pulse"`
	Temp             float64 `json:"temp,omitempty"`
	Weight           float64 `json:"weight,omitempty"`
	Height           float64 `json:"height,omitempty"`
	RespiratoryRate  int     `json:"respiratoryRate,omitempty"`
	OxygenSaturation int     `json:"oxygenSaturation,omitempty"`
	Notes            string  `json:"notes,omitempty"`
}

// Normalize composes BP from systolic/diastolic, or splits BP into them.
func (v VitalSign) Normalize() VitalSign {
	if v.BP == "" && v.Systolic > 0 && v.Diastolic > 0 {
		v.BP = fmt.Sprintf("%d/%d", v.Systolic, v.Diastolic)
	}
	if v.BP != "" && (v.Systolic == 0 || v.Diastolic == 0) {
		sys, dia, ok := strings.Cut(v.BP, "/")
		if ok {
			if n, err := strconv.Atoi(strings.TrimSpace(sys)); err == nil {
				v.Systolic = n
			}
			if n, err := strconv.Atoi(strings.TrimSpace(dia)); err == nil {
				v.Diastolic = n
			}
		}
	}
	return v
}

// Validate checks date, blood pressure and pulse.
func (v VitalSign) Validate() error {
	v = v.Normalize()
	var missing []string
	if v.Date.IsZero() {
		missing = append(missing, "date")
	}
	if v.BP == "" {
		missing = append(missing, "bp")
	}
	if v.Pulse <= 0 {
		missing = append(missing, "pulse")
	}
	if len(missing) > 0 {
		return &validation.Error{Fields: missing}
	}
	return nil
}

// SortVitals orders readings most recent first. Ties keep their order.
func SortVitals(vitals []VitalSign) {
	sort.SliceStable(vitals, func(i, j int) bool {
		return vitals[i].Date.After(vitals[j].Date.Time)
	})
}

// HistoryEntry is one clinical encounter.
type HistoryEntry struct {
	ID        string   `json:"id"`
	Date      Date     `json:"date"`
	Type      string   `json:"type"`
	Doctor    string   `json:"doctor"`
	Diagnosis string   `json:"diagnosis"`
	Notes     string   `json:"notes"`
	Documents []string `json:"documents"`
	IntakeID  string   `json:"intakeId,omitempty"`
}

// Validate checks date, type and diagnosis.
func (h HistoryEntry) Validate() error {
	err := validation.Required(
		validation.Field{Name: "type", Value: h.Type},
		validation.Field{Name: "diagnosis", Value: h.Diagnosis},
	)
	if h.Date.IsZero() {
		return validation.Merge(&validation.Error{Fields: []string{"date"}}, err)
	}
	return err
}

// Document is a file attached to a patient.
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Date     Date   `json:"date"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Validate checks the document name.
func (d Document) Validate() error {
	return validation.Required(validation.Field{Name: "name", Value: d.Name})
}
