package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avishifo/records/internal/domain/patient"
)

const (
	pathPatients      = "/api/patients/patientlar/"
	pathCreatePatient = "/api/patients/create/"
)

// serverPatient is the clinic API patient object.
type serverPatient struct {
	ID             patient.FlexID `json:"id"`
	FullName       string         `json:"full_name"`
	PassportSeries string         `json:"passport_series"`
	PassportNumber string         `json:"passport_number"`
	Phone          string         `json:"phone"`
	SecondaryPhone string         `json:"secondary_phone"`
	Email          string         `json:"email"`
	BirthDate      string         `json:"birth_date"`
	Gender         string         `json:"gender"`
	BloodGroup     string         `json:"blood_group"`
	Address        string         `json:"address"`
	CreatedAt      string         `json:"created_at"`
}

func (s serverPatient) record() patient.Record {
	r := patient.Record{
		ID:             string(s.ID),
		FullName:       s.FullName,
		PassportSeries: s.PassportSeries,
		PassportNumber: s.PassportNumber,
		Phone:          s.Phone,
		SecondaryPhone: s.SecondaryPhone,
		Email:          s.Email,
		Gender:         s.Gender,
		BloodGroup:     s.BloodGroup,
		Address:        s.Address,
	}
	// An unparseable birth date leaves the age unknown
	if d, err := patient.ParseDate(s.BirthDate); err == nil {
		r.BirthDate = d
	}
	if t, err := time.Parse(time.RFC3339Nano, s.CreatedAt); err == nil {
		r.CreatedAt = t
	}
	return r
}

func nullable(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// ListPatients fetches every patient. When fallback is set it is called
// instead of failing whenever the clinic API is unavailable; auth errors are
// always returned as is.
func (c *Client) ListPatients(ctx context.Context, fallback func(cause error) ([]patient.Patient, error)) ([]patient.Patient, error) {
	req := request{group: GroupPatients, method: http.MethodGet, path: pathPatients}

	var (
		raw    []byte
		err    error
		fallen []patient.Patient
	)
	if fallback == nil {
		raw, err = c.call(ctx, req)
	} else {
		raw, err = c.callWithFallback(ctx, req, func(cause error) ([]byte, error) {
			ps, ferr := fallback(cause)
			fallen = ps
			return nil, ferr
		})
	}
	if err != nil {
		return nil, err
	}
	if fallen != nil {
		return fallen, nil
	}
	return c.decodePatients(raw)
}

func (c *Client) decodePatients(raw []byte) ([]patient.Patient, error) {
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]patient.Patient, 0, len(items))
	for _, item := range items {
		if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			continue
		}
		var sp serverPatient
		if err := json.Unmarshal(item, &sp); err != nil {
			c.logger.Debug("skipping undecodable patient")
			continue
		}
		if sp.ID == "" {
			continue
		}
		out = append(out, sp.record().ToPatient(now))
	}
	return out, nil
}

// GetPatient fetches one patient's demographics
func (c *Client) GetPatient(ctx context.Context, id string) (patient.Record, error) {
	raw, err := c.call(ctx, request{group: GroupPatients, method: http.MethodGet, path: pathPatients + id + "/"})
	if err != nil {
		return patient.Record{}, err
	}
	var sp serverPatient
	if err := decodeObject(raw, &sp); err != nil {
		return patient.Record{}, err
	}
	return sp.record(), nil
}

// CreatePatient registers a patient and returns the server record
func (c *Client) CreatePatient(ctx context.Context, form patient.NewPatientForm) (patient.Record, error) {
	var birth *string
	if !form.BirthDate.IsZero() {
		birth = nullable(form.BirthDate.String())
	}
	req, err := jsonRequest(GroupPatients, http.MethodPost, pathCreatePatient, map[string]interface{}{
		"full_name":       form.FISH,
		"passport_series": form.PassportSeries,
		"passport_number": form.PassportNumber,
		"birth_date":      birth,
		"phone":           nullable(form.Phone),
		"secondary_phone": nil,
		"address":         nullable(form.Address),
		"status":          "active",
	})
	if err != nil {
		return patient.Record{}, err
	}
	raw, err := c.call(ctx, req)
	if err != nil {
		return patient.Record{}, err
	}
	var sp serverPatient
	if err := decodeObject(raw, &sp); err != nil {
		return patient.Record{}, err
	}
	if sp.ID == "" {
		return patient.Record{}, fmt.Errorf("create patient: response has no id")
	}
	return sp.record(), nil
}

// SetArchived archives or restores a patient
func (c *Client) SetArchived(ctx context.Context, id string, archived bool) error {
	req, err := jsonRequest(GroupPatients, http.MethodPost, pathPatients+id+"/archive/",
		map[string]bool{"archived": archived})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

// DeletePatient removes a patient permanently
func (c *Client) DeletePatient(ctx context.Context, id string) error {
	_, err := c.call(ctx, request{group: GroupPatients, method: http.MethodDelete, path: pathPatients + id + "/delete/"})
	return err
}
