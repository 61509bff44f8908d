package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/avishifo/records/internal/domain/intake"
)

const pathIntake = "/api/patients/kasallik-tarixi/"

// IntakeRecords lists a patient's clinical intake records. A 404 is an empty list.
func (c *Client) IntakeRecords(ctx context.Context, patientID string) ([]intake.Record, error) {
	raw, err := c.call(ctx, request{
		group:  GroupIntake,
		method: http.MethodGet,
		path:   pathIntake,
		query:  url.Values{"patient_id": {patientID}},
	})
	if IsNotFound(err) {
		return []intake.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]intake.Record, 0, len(items))
	for _, item := range items {
		var obj map[string]interface{}
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			continue
		}
		r := intake.FromServer(obj)
		if r.PatientID == "" {
			r.PatientID = patientID
		}
		out = append(out, r)
	}
	return out, nil
}

// IntakeRecord fetches one intake record
func (c *Client) IntakeRecord(ctx context.Context, id string) (intake.Record, error) {
	raw, err := c.call(ctx, request{group: GroupIntake, method: http.MethodGet, path: pathIntake + id + "/"})
	if err != nil {
		return intake.Record{}, err
	}
	var obj map[string]interface{}
	if err := decodeObject(raw, &obj); err != nil {
		return intake.Record{}, err
	}
	return intake.FromServer(obj), nil
}

// SubmitIntake creates an intake record from a multipart form
func (c *Client) SubmitIntake(ctx context.Context, patientID string, r intake.Record) (intake.Record, error) {
	return c.sendIntake(ctx, http.MethodPost, pathIntake, patientID, r)
}

// UpdateIntake replaces a stored intake record
func (c *Client) UpdateIntake(ctx context.Context, id, patientID string, r intake.Record) (intake.Record, error) {
	return c.sendIntake(ctx, http.MethodPut, pathIntake+id+"/", patientID, r)
}

func (c *Client) sendIntake(ctx context.Context, method, path, patientID string, r intake.Record) (intake.Record, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := intake.EncodeMultipart(mw, patientID, r); err != nil {
		return intake.Record{}, fmt.Errorf("encode intake: %w", err)
	}
	if err := mw.Close(); err != nil {
		return intake.Record{}, fmt.Errorf("close multipart: %w", err)
	}

	raw, err := c.call(ctx, request{
		group:       GroupIntake,
		method:      method,
		path:        path,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return intake.Record{}, err
	}

	var obj map[string]interface{}
	if err := decodeObject(raw, &obj); err != nil || obj == nil {
		// Servers that answer without a body still accepted the record
		saved := r.Clone()
		saved.PatientID = patientID
		return saved, nil
	}
	saved := intake.FromServer(obj)
	if saved.PatientID == "" {
		saved.PatientID = patientID
	}
	return saved, nil
}
