// Package crm manages the super-admin user directory: admins, doctors and
// patient accounts with derived statistics.
package crm

import (
	"errors"
	"fmt"
	"time"

	"github.com/avishifo/records/internal/domain/validation"
)

var (
	ErrUnknownRole   = errors.New("unknown user role")
	ErrUnknownFilter = errors.New("unknown status filter")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidStatus = errors.New("invalid user status")
)

// Role selects one of the three user lists.
type Role string

const (
	RoleAdmin   Role = "admins"
	RoleDoctor  Role = "doctors"
	RolePatient Role = "patients"
)

// ParseRole accepts the plural list names and their singular forms.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admins", "admin":
		return RoleAdmin, nil
	case "doctors", "doctor":
		return RoleDoctor, nil
	case "patients", "patient":
		return RolePatient, nil
	}
	return "", ErrUnknownRole
}

// Status is a presence or account status.
type Status string

const (
	StatusOnline   Status = "online"
	StatusAway     Status = "away"
	StatusOffline  Status = "offline"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// checkStatus rejects a status users of the role cannot have. Staff carry a
// presence status, patients an account status.
func (r Role) checkStatus(s Status) error {
	var ok bool
	switch r {
	case RoleAdmin, RoleDoctor:
		ok = s == StatusOnline || s == StatusAway || s == StatusOffline
	case RolePatient:
		ok = s == StatusActive || s == StatusInactive
	default:
		return ErrUnknownRole
	}
	if !ok {
		return fmt.Errorf("%w: %q for %s", ErrInvalidStatus, s, r)
	}
	return nil
}

// Plans offered to patient accounts.
const (
	PlanBasic   = "Basic"
	PlanPremium = "Premium"
)

// User holds the fields shared by every role.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Blocked   bool      `json:"blocked"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) base() *User { return u }

// Admin is a dashboard administrator. Role is the job title.
type Admin struct {
	User
	Role       string `json:"role"`
	LastActive string `json:"lastActive"`
}

// Doctor is a clinician account.
type Doctor struct {
	User
	Specialty string  `json:"specialty"`
	Patients  int     `json:"patients"`
	Rating    float64 `json:"rating"`
}

// PatientUser is a patient portal account.
type PatientUser struct {
	User
	Age       int    `json:"age"`
	LastVisit string `json:"lastVisit"`
	Plan      string `json:"plan"`
}

// Stats are derived from the lists on every mutation.
type Stats struct {
	TotalUsers   int `json:"totalUsers"`
	Admins       int `json:"admins"`
	Doctors      int `json:"doctors"`
	Patients     int `json:"patients"`
	BlockedUsers int `json:"blockedUsers"`
	ActiveToday  int `json:"activeToday"`
	NewThisWeek  int `json:"newThisWeek"`
	PremiumUsers int `json:"premiumUsers"`
}

// View is a consistent copy of the lists together with their stats.
type View struct {
	Admins   []Admin       `json:"admins,omitempty"`
	Doctors  []Doctor      `json:"doctors,omitempty"`
	Patients []PatientUser `json:"patients,omitempty"`
	Stats    Stats         `json:"stats"`
}

// Input describes a new user. Role-specific fields are ignored for other roles.
type Input struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Status    Status  `json:"status,omitempty"`
	Title     string  `json:"role,omitempty"`
	Specialty string  `json:"specialty,omitempty"`
	Age       int     `json:"age,omitempty"`
	Plan      string  `json:"plan,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
}

// Patch merges set fields into an existing user.
type Patch struct {
	Name       *string  `json:"name,omitempty"`
	Email      *string  `json:"email,omitempty"`
	Status     *Status  `json:"status,omitempty"`
	Title      *string  `json:"role,omitempty"`
	LastActive *string  `json:"lastActive,omitempty"`
	Specialty  *string  `json:"specialty,omitempty"`
	Patients   *int     `json:"patients,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	Age        *int     `json:"age,omitempty"`
	LastVisit  *string  `json:"lastVisit,omitempty"`
	Plan       *string  `json:"plan,omitempty"`
}

// validate applies the Add rules to the fields p sets
func (p Patch) validate(role Role) error {
	var fields []validation.Field
	if p.Name != nil {
		fields = append(fields, validation.Field{Name: "name", Value: *p.Name})
	}
	if p.Email != nil {
		fields = append(fields, validation.Field{Name: "email", Value: *p.Email})
	}
	if err := validation.Required(fields...); err != nil {
		return err
	}
	if p.Status != nil {
		return role.checkStatus(*p.Status)
	}
	return nil
}

// StatusFilter narrows a list by block state.
type StatusFilter string

const (
	FilterAll     StatusFilter = "all"
	FilterBlocked StatusFilter = "blocked"
	FilterActive  StatusFilter = "active"
)

// Query selects users. An empty Role covers all three lists.
type Query struct {
	Role   Role
	Search string
	Status StatusFilter
}

func seed(now time.Time) ([]Admin, []Doctor, []PatientUser) {
	daysAgo := func(n int) time.Time { return now.AddDate(0, 0, -n) }

	admins := []Admin{
		{User: User{ID: 1, Name: "Иван Петров", Email: "ivan@medpro.ru", Status: StatusOnline, CreatedAt: daysAgo(420)}, Role: "Главный Админ", LastActive: "Сейчас"},
		{User: User{ID: 2, Name: "Мария Сидорова", Email: "maria@medpro.ru", Status: StatusOnline, CreatedAt: daysAgo(300)}, Role: "Модератор", LastActive: "5 мин назад"},
		{User: User{ID: 3, Name: "Алексей Козлов", Email: "alexey@medpro.ru", Status: StatusAway, CreatedAt: daysAgo(210)}, Role: "Техподдержка", LastActive: "1 час назад"},
		{User: User{ID: 4, Name: "Елена Волкова", Email: "elena@medpro.ru", Status: StatusOffline, CreatedAt: daysAgo(90)}, Role: "Аналитик", LastActive: "2 дня назад"},
	}
	doctors := []Doctor{
		{User: User{ID: 1, Name: "Др. Анна Смирнова", Email: "smirnova@medpro.ru", Status: StatusOnline, CreatedAt: daysAgo(365)}, Specialty: "Кардиолог", Patients: 45, Rating: 4.9},
		{User: User{ID: 2, Name: "Др. Михаил Попов", Email: "popov@medpro.ru", Status: StatusOnline, CreatedAt: daysAgo(240)}, Specialty: "Терапевт", Patients: 67, Rating: 4.8},
		{User: User{ID: 3, Name: "Др. Ольга Новикова", Email: "novikova@medpro.ru", Status: StatusAway, CreatedAt: daysAgo(120)}, Specialty: "Невролог", Patients: 32, Rating: 4.7},
		{User: User{ID: 4, Name: "Др. Сергей Лебедев", Email: "lebedev@medpro.ru", Status: StatusOffline, CreatedAt: daysAgo(3)}, Specialty: "Психиатр", Patients: 28, Rating: 4.9},
	}
	patients := []PatientUser{
		{User: User{ID: 1, Name: "Анна Иванова", Email: "anna@email.ru", Status: StatusActive, CreatedAt: daysAgo(2)}, Age: 32, LastVisit: "Сегодня", Plan: PlanPremium},
		{User: User{ID: 2, Name: "Петр Сидоров", Email: "petr@email.ru", Status: StatusActive, CreatedAt: daysAgo(40)}, Age: 45, LastVisit: "Вчера", Plan: PlanBasic},
		{User: User{ID: 3, Name: "Мария Козлова", Email: "maria.k@email.ru", Status: StatusInactive, CreatedAt: daysAgo(75)}, Age: 28, LastVisit: "3 дня назад", Plan: PlanPremium},
		{User: User{ID: 4, Name: "Дмитрий Волков", Email: "dmitry@email.ru", Status: StatusInactive, CreatedAt: daysAgo(150)}, Age: 52, LastVisit: "1 неделю назад", Plan: PlanBasic},
	}
	return admins, doctors, patients
}
