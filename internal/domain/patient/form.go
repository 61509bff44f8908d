package patient

import (
	"strings"
	"time"
	"unicode"

	"github.com/avishifo/records/internal/domain/validation"
)

// Registration defaults
const (
	DefaultGender    = "Мужской"
	DefaultBloodType = "A(II) Rh+"

	RegistrationType     = "Регистрация"
	RegistrationDoctor   = "Регистратура"
	FirstVisitAfter      = 7 * 24 * time.Hour
	maxPassportSeriesLen = 2
	maxPassportNumberLen = 7
)

// NewPatientForm is the input for registering a patient.
type NewPatientForm struct {
	FISH           string `json:"fish"`
	PassportSeries string `json:"passportSeries"`
	PassportNumber string `json:"passportNumber"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	BirthDate      Date   `json:"birthDate"`
	Gender         string `json:"gender"`
	BloodType      string `json:"bloodType"`
	Address        string `json:"address"`
}

// Normalize trims input, uppercases the passport series, keeps only passport
// number digits and fills gender and blood type defaults.
func (f NewPatientForm) Normalize() NewPatientForm {
	f.FISH = strings.TrimSpace(f.FISH)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Email = strings.TrimSpace(f.Email)
	f.Address = strings.TrimSpace(f.Address)

	series := []rune(strings.ToUpper(strings.TrimSpace(f.PassportSeries)))
	if len(series) > maxPassportSeriesLen {
		series = series[:maxPassportSeriesLen]
	}
	f.PassportSeries = string(series)

	var digits []rune
	for _, r := range f.PassportNumber {
		if unicode.IsDigit(r) && len(digits) < maxPassportNumberLen {
			digits = append(digits, r)
		}
	}
	f.PassportNumber = string(digits)

	if f.Gender == "" {
		f.Gender = DefaultGender
	}
	if f.BloodType == "" {
		f.BloodType = DefaultBloodType
	}
	return f
}

// Validate requires full name, passport series and passport number.
func (f NewPatientForm) Validate() error {
	return validation.Required(
		validation.Field{Name: "fish", Value: f.FISH},
		validation.Field{Name: "passportSeries", Value: f.PassportSeries},
		validation.Field{Name: "passportNumber", Value: f.PassportNumber},
	)
}

// Record is the clinic API's representation of a patient.
type Record struct {
	ID             string
	FullName       string
	PassportSeries string
	PassportNumber string
	Phone          string
	SecondaryPhone string
	Email          string
	BirthDate      Date
	Gender         string
	BloodGroup     string
	Address        string
	CreatedAt      time.Time
}

// Insurance renders the policy label from the passport.
func (r Record) Insurance() string {
	return "ОМС №" + r.PassportSeries + r.PassportNumber
}

// ToPatient maps a listed record with the summary defaults used for the list view.
func (r Record) ToPatient(now time.Time) Patient {
	p := Patient{
		ID:            r.ID,
		Name:          r.FullName,
		Age:           AgeAt(r.BirthDate, now),
		BirthDate:     r.BirthDate,
		Gender:        orUnknown(r.Gender),
		Phone:         orUnknown(r.Phone),
		Email:         orUnknown(r.Email),
		Address:       orUnknown(r.Address),
		BloodType:     orUnknown(r.BloodGroup),
		Insurance:     r.Insurance(),
		LastDiagnosis: DefaultDiagnosis,
		Status:        StatusObservation,
		StatusColor:   ColorAmber,
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt
		p.LastVisit = &t
	}
	return p
}

// Registered builds the store entry for a newly created patient. The server
// record supplies the id; anything it omits is taken from the form.
func Registered(r Record, form NewPatientForm, now time.Time) Patient {
	if r.FullName == "" {
		r.FullName = form.FISH
	}
	if r.PassportSeries == "" {
		r.PassportSeries = form.PassportSeries
	}
	if r.PassportNumber == "" {
		r.PassportNumber = form.PassportNumber
	}
	if r.BirthDate.IsZero() {
		r.BirthDate = form.BirthDate
	}
	if r.Phone == "" {
		r.Phone = form.Phone
	}
	if r.Email == "" {
		r.Email = form.Email
	}
	if r.Address == "" {
		r.Address = form.Address
	}
	if r.Gender == "" {
		r.Gender = form.Gender
	}
	if r.BloodGroup == "" {
		r.BloodGroup = form.BloodType
	}

	p := r.ToPatient(now)
	p.Status = StatusNew
	p.StatusColor = ColorBlue
	visit := now
	next := now.Add(FirstVisitAfter)
	p.LastVisit = &visit
	p.NextAppointment = &next
	p.History = []HistoryEntry{{
		ID:        "reg-" + r.ID,
		Date:      NewDate(now),
		Type:      RegistrationType,
		Doctor:    RegistrationDoctor,
		Diagnosis: DefaultDiagnosis,
		Notes:     "Паспорт: " + r.PassportSeries + " " + r.PassportNumber,
	}}
	return p
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return UnknownLabel
	}
	return s
}
