package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/avishifo/records/internal/domain/doctor"
)

const (
	pathDoctorProfile = "/api/doctors/profile/page/"
	pathDoctorOptions = "/api/doctors/profile/options/"
	pathSpecialties   = "/api/doctors/specialties/"
)

// DoctorProfile fetches the signed-in doctor's profile page
func (c *Client) DoctorProfile(ctx context.Context) (doctor.Profile, error) {
	var p doctor.Profile
	raw, err := c.call(ctx, request{group: GroupDoctors, method: http.MethodGet, path: pathDoctorProfile})
	if err != nil {
		return p, err
	}
	err = decodeObject(raw, &p)
	return p, err
}

// UpdateDoctorProfile patches the profile and returns the stored result
func (c *Client) UpdateDoctorProfile(ctx context.Context, u doctor.ProfileUpdate) (doctor.Profile, error) {
	var p doctor.Profile
	req, err := jsonRequest(GroupDoctors, http.MethodPatch, pathDoctorProfile, u)
	if err != nil {
		return p, err
	}
	raw, err := c.call(ctx, req)
	if err != nil {
		return p, err
	}
	err = decodeObject(raw, &p)
	return p, err
}

// DoctorProfileOptions fetches the selectable profile values
func (c *Client) DoctorProfileOptions(ctx context.Context) (doctor.Options, error) {
	var o doctor.Options
	raw, err := c.call(ctx, request{group: GroupDoctors, method: http.MethodGet, path: pathDoctorOptions})
	if err != nil {
		return o, err
	}
	err = decodeObject(raw, &o)
	return o, err
}

// Specialties fetches the specialty catalogue
func (c *Client) Specialties(ctx context.Context) ([]doctor.Specialty, error) {
	raw, err := c.call(ctx, request{group: GroupDoctors, method: http.MethodGet, path: pathSpecialties})
	if err != nil {
		return nil, err
	}
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]doctor.Specialty, 0, len(items))
	for _, item := range items {
		var s doctor.Specialty
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("decode specialty: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
