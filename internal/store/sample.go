package store

import (
	"time"

	"github.com/avishifo/records/internal/domain/patient"
)

// OfflineNotice is shown to callers whenever sample data is being served.
const OfflineNotice = "Клиническое API недоступно: показаны демонстрационные данные, а не реальные записи пациентов"

// samplePatients is the offline dataset. Names carry a "(Fallback)" marker so
// the records cannot be mistaken for real patients.
func samplePatients(now time.Time) []patient.Patient {
	at := func(days int) *time.Time {
		t := now.AddDate(0, 0, days)
		return &t
	}
	return []patient.Patient{
		{
			ID:                "p1",
			Name:              "Иванов Иван (Fallback)",
			Age:               patient.Age{Years: 45, Known: true},
			Gender:            "Мужской",
			Phone:             "+7 (900) 123-45-67",
			Email:             "ivanov@example.com",
			Address:           "г. Москва, ул. Ленина, д. 10, кв. 15",
			BloodType:         "A(II) Rh+",
			Insurance:         "ОМС №1234567890",
			LastDiagnosis:     "Компенсированный сахарный диабет",
			ChronicConditions: []string{"Гипертония"},
			Allergies:         []string{"Пенициллин"},
			Status:            patient.StatusObservation,
			StatusColor:       patient.ColorAmber,
			LastVisit:         at(-2),
			NextAppointment:   at(14),
		},
		{
			ID:                "p2",
			Name:              "Петрова Анна (Fallback)",
			Age:               patient.Age{Years: 32, Known: true},
			Gender:            "Женский",
			Phone:             "+7 (900) 987-65-43",
			Email:             "petrova@example.com",
			Address:           "г. Санкт-Петербург, ул. Пушкина, д. 5, кв. 42",
			BloodType:         "O(I) Rh-",
			Insurance:         "ОМС №0987654321",
			LastDiagnosis:     "БА, контролируемое течение",
			ChronicConditions: []string{"Бронхиальная астма"},
			Allergies:         []string{"Орехи"},
			Status:            patient.StatusActiveTreatment,
			StatusColor:       patient.ColorGreen,
			LastVisit:         at(-7),
			NextAppointment:   at(19),
		},
	}
}
