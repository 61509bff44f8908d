// Package doctor holds the doctor profile model and its derived views.
package doctor

import (
	"fmt"
	"strings"
)

// Profile mirrors the clinic API doctor profile page.
type Profile struct {
	DoctorID          int64   `json:"doctor_id"`
	FullName          string  `json:"full_name"`
	Email             string  `json:"email"`
	Phone             string  `json:"phone"`
	Avatar            string  `json:"avatar,omitempty"`
	Specialty         string  `json:"specialty"`
	SpecialtyDisplay  string  `json:"specialty_display,omitempty"`
	LicenseNumber     string  `json:"license_number"`
	HospitalName      string  `json:"hospital_name"`
	YearsOfExperience int     `json:"years_of_experience"`
	Education         string  `json:"education"`
	Certifications    string  `json:"certifications"`
	ConsultationFee   float64 `json:"consultation_fee"`
	IsAvailable       bool    `json:"is_available"`
	Rating            float64 `json:"rating"`
}

// ProfileUpdate is the PATCH body for the profile page. Nil fields are left
// unchanged by the server.
type ProfileUpdate struct {
	Specialty         *string  `json:"specialty,omitempty"`
	LicenseNumber     *string  `json:"license_number,omitempty"`
	YearsOfExperience *int     `json:"years_of_experience,omitempty"`
	Education         *string  `json:"education,omitempty"`
	Certifications    *string  `json:"certifications,omitempty"`
	ConsultationFee   *float64 `json:"consultation_fee,omitempty"`
	IsAvailable       *bool    `json:"is_available,omitempty"`
}

// Empty reports whether the update sets nothing.
func (u ProfileUpdate) Empty() bool {
	return u == ProfileUpdate{}
}

// Option is a selectable value offered by the profile form.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options lists the choices for the profile form.
type Options struct {
	Specialties []Option `json:"specialties"`
	Hospitals   []Option `json:"hospitals,omitempty"`
}

// Specialty is one entry of the specialty catalogue.
type Specialty struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// CompletionStatus grades how much of the profile is filled in.
type CompletionStatus string

const (
	CompletionComplete   CompletionStatus = "complete"
	CompletionIncomplete CompletionStatus = "incomplete"
	CompletionMinimal    CompletionStatus = "minimal"
)

const totalProfileFields = 10

// Completion summarises filled profile fields.
type Completion struct {
	Percentage      int              `json:"percentage"`
	CompletedFields int              `json:"completed_fields"`
	TotalFields     int              `json:"total_fields"`
	Status          CompletionStatus `json:"status"`
}

// ComputeCompletion counts the ten tracked fields of p.
func ComputeCompletion(p Profile) Completion {
	checks := []bool{
		p.FullName != "",
		p.Email != "",
		p.Phone != "",
		p.Specialty != "",
		p.LicenseNumber != "",
		p.HospitalName != "",
		p.YearsOfExperience > 0,
		strings.TrimSpace(p.Education) != "",
		strings.TrimSpace(p.Certifications) != "",
		p.ConsultationFee > 0,
	}
	done := 0
	for _, ok := range checks {
		if ok {
			done++
		}
	}
	pct := done * 100 / totalProfileFields

	status := CompletionMinimal
	switch {
	case pct >= 90:
		status = CompletionComplete
	case pct >= 50:
		status = CompletionIncomplete
	}
	return Completion{Percentage: pct, CompletedFields: done, TotalFields: totalProfileFields, Status: status}
}

// Verification reflects whether a license is on file.
type Verification struct {
	IsVerified        bool   `json:"is_verified"`
	DocumentsUploaded bool   `json:"documents_uploaded"`
	StatusText        string `json:"status_text"`
}

// ComputeVerification derives the verification badge.
func ComputeVerification(p Profile) Verification {
	v := Verification{
		IsVerified:        p.LicenseNumber != "",
		DocumentsUploaded: p.LicenseNumber != "" && strings.TrimSpace(p.Certifications) != "",
		StatusText:        "Требуется верификация",
	}
	if v.IsVerified {
		v.StatusText = "Верифицирован"
	}
	return v
}

// ExperienceText renders years of experience with Russian plural forms.
func ExperienceText(years int) string {
	switch {
	case years <= 0:
		return "Опыт не указан"
	case years == 1:
		return "1 год опыта"
	case years < 5:
		return fmt.Sprintf("%d года опыта", years)
	default:
		return fmt.Sprintf("%d лет опыта", years)
	}
}

// CertificationList splits certifications on newlines and semicolons.
func CertificationList(certs string) []string {
	var out []string
	for _, c := range strings.Split(strings.ReplaceAll(certs, ";", "\n"), "\n") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []string{"Сертификаты не указаны"}
	}
	return out
}

// Rating is the display form of a doctor's rating.
type Rating struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
	Stars int     `json:"stars"`
}

// RatingDisplay renders r for the profile card.
func RatingDisplay(r float64) Rating {
	if r <= 0 {
		return Rating{Text: "Рейтинг не установлен"}
	}
	return Rating{Value: r, Text: fmt.Sprintf("%.1f из 5.0", r), Stars: int(r)}
}

// View is the profile together with its derived fields.
type View struct {
	Profile
	ExperienceText     string       `json:"experience_text"`
	CertificationsList []string     `json:"certifications_list"`
	RatingDisplay      Rating       `json:"rating_display"`
	Completion         Completion   `json:"profile_completion"`
	Verification       Verification `json:"verification_status"`
}

// NewView derives the display fields of p.
func NewView(p Profile) View {
	return View{
		Profile:            p,
		ExperienceText:     ExperienceText(p.YearsOfExperience),
		CertificationsList: CertificationList(p.Certifications),
		RatingDisplay:      RatingDisplay(p.Rating),
		Completion:         ComputeCompletion(p),
		Verification:       ComputeVerification(p),
	}
}
