package patient

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/avishifo/records/internal/domain/validation"
)

func samplePatients() []Patient {
	return []Patient{
		{ID: "p1", Name: "Иванов Иван", LastDiagnosis: "Гипертония", Status: StatusObservation},
		{ID: "p2", Name: "Петрова Анна", LastDiagnosis: "Диабет 2 типа", Status: StatusActiveTreatment},
		{ID: "p3", Name: "Karimov Aziz", LastDiagnosis: "Bronxit", Status: StatusObservation, Archived: true},
		{ID: "x42", Name: "Sidorov", LastDiagnosis: "Первичный осмотр", Status: StatusNew},
	}
}

func TestFilterSearch(t *testing.T) {
	patients := samplePatients()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty filter hides archived", Filter{}, []string{"p1", "p2", "x42"}},
		{"name case-insensitive", Filter{Search: "ИВАН"}, []string{"p1"}},
		{"diagnosis substring", Filter{Search: "диабет"}, []string{"p2"}},
		{"id substring", Filter{Search: "X4"}, []string{"x42"}},
		{"status exact", Filter{Status: StatusObservation}, []string{"p1"}},
		{"search and status intersect", Filter{Search: "а", Status: StatusActiveTreatment}, []string{"p2"}},
		{"include archived", Filter{Search: "karimov", IncludeArchived: true}, []string{"p3"}},
		{"archived only", Filter{ArchivedOnly: true}, []string{"p3"}},
		{"no match", Filter{Search: "zzz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(patients, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d patients, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestApplyDoesNotMutate(t *testing.T) {
	patients := samplePatients()
	patients[0].Allergies = []string{"пенициллин"}

	got := Apply(patients, Filter{Search: "иван"})
	got[0].Name = "changed"
	got[0].Allergies[0] = "changed"

	if patients[0].Name != "Иванов Иван" {
		t.Error("filter result shares struct with input")
	}
	if patients[0].Allergies[0] != "пенициллин" {
		t.Error("filter result shares slices with input")
	}
}

func TestNewPatientFormValidate(t *testing.T) {
	form := NewPatientForm{FISH: "Ivanov I.I.", PassportSeries: "", PassportNumber: "1234567"}
	err := form.Normalize().Validate()
	if !errors.Is(err, validation.ErrMissingRequiredField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	var verr *validation.Error
	if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0] != "passportSeries" {
		t.Errorf("unexpected error fields: %v", err)
	}
}

func TestNewPatientFormNormalize(t *testing.T) {
	form := NewPatientForm{
		FISH:           "  Ivanov I.I. ",
		PassportSeries: "abc",
		PassportNumber: "12-34 5678",
	}.Normalize()

	if form.FISH != "Ivanov I.I." {
		t.Errorf("FISH = %q", form.FISH)
	}
	if form.PassportSeries != "AB" {
		t.Errorf("PassportSeries = %q, want AB", form.PassportSeries)
	}
	if form.PassportNumber != "1234567" {
		t.Errorf("PassportNumber = %q, want 1234567", form.PassportNumber)
	}
	if form.Gender != DefaultGender || form.BloodType != DefaultBloodType {
		t.Errorf("defaults not applied: %q %q", form.Gender, form.BloodType)
	}
	if err := form.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestAgeAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	birth, _ := ParseDate("1990-06-02")

	age := AgeAt(birth, now)
	if !age.Known || age.Years != 34 {
		t.Errorf("age = %+v, want 34", age)
	}

	if got := AgeAt(Date{}, now); got.Known {
		t.Error("zero birth date should be unknown")
	}
	if got := AgeAt(Date{}, now).String(); got != UnknownLabel {
		t.Errorf("unknown age renders %q", got)
	}

	data, _ := json.Marshal(AgeAt(Date{}, now))
	if string(data) != `"Не указан"` {
		t.Errorf("unknown age json = %s", data)
	}
	data, _ = json.Marshal(age)
	if string(data) != "34" {
		t.Errorf("known age json = %s", data)
	}
}

func TestRegistered(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	form := NewPatientForm{FISH: "Aliyev Vali", PassportSeries: "AA", PassportNumber: "1234567"}.Normalize()

	p := Registered(Record{ID: "101"}, form, now)

	if p.ID != "101" || p.Name != "Aliyev Vali" {
		t.Errorf("identity not mapped: %+v", p)
	}
	if p.Status != StatusNew || p.StatusColor != ColorBlue {
		t.Errorf("status = %s/%s", p.Status, p.StatusColor)
	}
	if p.NextAppointment == nil || !p.NextAppointment.Equal(now.Add(7*24*time.Hour)) {
		t.Errorf("next appointment = %v", p.NextAppointment)
	}
	if p.Insurance != "ОМС №AA1234567" {
		t.Errorf("insurance = %q", p.Insurance)
	}
	if len(p.History) != 1 || p.History[0].Type != RegistrationType || p.History[0].Notes != "Паспорт: AA 1234567" {
		t.Errorf("registration history = %+v", p.History)
	}
	if p.Age.Known {
		t.Error("age should be unknown without birth date")
	}
}

func TestVitalSignValidate(t *testing.T) {
	d, _ := ParseDate("2025-01-02")

	v := VitalSign{Date: d, Systolic: 120, Diastolic: 80, Pulse: 70}
	if err := v.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Normalize().BP; got != "120/80" {
		t.Errorf("BP = %q", got)
	}

	n := VitalSign{BP: "135/85"}.Normalize()
	if n.Systolic != 135 || n.Diastolic != 85 {
		t.Errorf("split BP = %d/%d", n.Systolic, n.Diastolic)
	}

	err := VitalSign{}.Validate()
	var verr *validation.Error
	if !errors.As(err, &verr) || len(verr.Fields) != 3 {
		t.Errorf("expected date, bp, pulse missing, got %v", err)
	}
}

func TestSortVitals(t *testing.T) {
	d1, _ := ParseDate("2025-01-01")
	d2, _ := ParseDate("2025-02-01")
	d3, _ := ParseDate("2024-12-01")
	vitals := []VitalSign{{ID: "a", Date: d1}, {ID: "b", Date: d2}, {ID: "c", Date: d3}}

	SortVitals(vitals)
	if vitals[0].ID != "b" || vitals[1].ID != "a" || vitals[2].ID != "c" {
		t.Errorf("order = %s %s %s", vitals[0].ID, vitals[1].ID, vitals[2].ID)
	}
}

func TestHistoryAndMedicationValidate(t *testing.T) {
	if err := (Medication{Name: "Aspirin", Dosage: "100mg"}).Validate(); err == nil {
		t.Error("medication without frequency should fail")
	}
	if err := (HistoryEntry{Type: "Осмотр", Diagnosis: "ОРВИ"}).Validate(); err == nil {
		t.Error("history entry without date should fail")
	}
	d, _ := ParseDate("2025-01-01")
	if err := (HistoryEntry{Date: d, Type: "Осмотр", Diagnosis: "ОРВИ"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"15.01.2024"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.String() != "2024-01-15" {
		t.Errorf("date = %s", d)
	}
	out, _ := json.Marshal(Date{})
	if string(out) != "null" {
		t.Errorf("zero date json = %s", out)
	}
}
