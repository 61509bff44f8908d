package doctor

import "testing"

func TestComputeCompletion(t *testing.T) {
	full := Profile{
		FullName:          "Др. Анна Смирнова",
		Email:             "smirnova@medpro.ru",
		Phone:             "+998901234567",
		Specialty:         "cardiology",
		LicenseNumber:     "LIC-1",
		HospitalName:      "Respublika shifoxonasi",
		YearsOfExperience: 12,
		Education:         "TTA",
		Certifications:    "ESC",
		ConsultationFee:   150000,
	}

	tests := []struct {
		name    string
		profile Profile
		pct     int
		status  CompletionStatus
	}{
		{"full", full, 100, CompletionComplete},
		{"nine of ten", func() Profile { p := full; p.ConsultationFee = 0; return p }(), 90, CompletionComplete},
		{"half", Profile{FullName: "a", Email: "b", Phone: "c", Specialty: "d", LicenseNumber: "e"}, 50, CompletionIncomplete},
		{"whitespace education", Profile{FullName: "a", Education: "  "}, 10, CompletionMinimal},
		{"empty", Profile{}, 0, CompletionMinimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeCompletion(tt.profile)
			if c.Percentage != tt.pct || c.Status != tt.status || c.TotalFields != 10 {
				t.Errorf("completion = %+v, want %d%% %s", c, tt.pct, tt.status)
			}
		})
	}
}

func TestDerivedFields(t *testing.T) {
	cases := map[int]string{0: "Опыт не указан", 1: "1 год опыта", 3: "3 года опыта", 11: "11 лет опыта"}
	for years, want := range cases {
		if got := ExperienceText(years); got != want {
			t.Errorf("ExperienceText(%d) = %q, want %q", years, got, want)
		}
	}

	certs := CertificationList("ESC; AHA\n\nACC")
	if len(certs) != 3 || certs[1] != "AHA" {
		t.Errorf("certifications = %v", certs)
	}
	if got := CertificationList(" "); len(got) != 1 || got[0] != "Сертификаты не указаны" {
		t.Errorf("empty certifications = %v", got)
	}

	if r := RatingDisplay(4.86); r.Text != "4.9 из 5.0" || r.Stars != 4 {
		t.Errorf("rating = %+v", r)
	}

	v := ComputeVerification(Profile{LicenseNumber: "LIC-1"})
	if !v.IsVerified || v.DocumentsUploaded || v.StatusText != "Верифицирован" {
		t.Errorf("verification = %+v", v)
	}
}
