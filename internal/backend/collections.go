package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/avishifo/records/internal/domain/patient"
)

const (
	pathMedications = "/api/medications/"
	pathVitals      = "/api/vitals/"
	pathHistory     = "/api/history/"
	pathDocuments   = "/api/documents/"
)

// Medications lists a patient's medications
func (c *Client) Medications(ctx context.Context, patientID string) ([]patient.Medication, error) {
	return listOf[patient.Medication](ctx, c, pathMedications, patientID)
}

// Vitals lists a patient's vital sign readings
func (c *Client) Vitals(ctx context.Context, patientID string) ([]patient.VitalSign, error) {
	return listOf[patient.VitalSign](ctx, c, pathVitals, patientID)
}

// History lists a patient's simple history entries
func (c *Client) History(ctx context.Context, patientID string) ([]patient.HistoryEntry, error) {
	return listOf[patient.HistoryEntry](ctx, c, pathHistory, patientID)
}

// Documents lists a patient's documents
func (c *Client) Documents(ctx context.Context, patientID string) ([]patient.Document, error) {
	return listOf[patient.Document](ctx, c, pathDocuments, patientID)
}

func (c *Client) addItem(ctx context.Context, path string, payload interface{}) error {
	req, err := jsonRequest(GroupCollections, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

func (c *Client) deleteItem(ctx context.Context, path, id string) error {
	_, err := c.call(ctx, request{group: GroupCollections, method: http.MethodDelete, path: path + id + "/"})
	return err
}

// AddMedication creates a medication for the patient
func (c *Client) AddMedication(ctx context.Context, patientID string, m patient.Medication) error {
	return c.addItem(ctx, pathMedications, struct {
		Patient string `json:"patient"`
		patient.Medication
	}{patientID, m})
}

// DeleteMedication removes one medication
func (c *Client) DeleteMedication(ctx context.Context, id string) error {
	return c.deleteItem(ctx, pathMedications, id)
}

// AddVitals records a vital sign reading
func (c *Client) AddVitals(ctx context.Context, patientID string, v patient.VitalSign) error {
	return c.addItem(ctx, pathVitals, struct {
		Patient string `json:"patient"`
		patient.VitalSign
	}{patientID, v})
}

// DeleteVitals removes one reading
func (c *Client) DeleteVitals(ctx context.Context, id string) error {
	return c.deleteItem(ctx, pathVitals, id)
}

// AddHistory records a history entry
func (c *Client) AddHistory(ctx context.Context, patientID string, h patient.HistoryEntry) error {
	return c.addItem(ctx, pathHistory, struct {
		Patient string `json:"patient"`
		patient.HistoryEntry
	}{patientID, h})
}

// DeleteHistory removes one history entry
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	return c.deleteItem(ctx, pathHistory, id)
}

// AddDocument uploads a document with its content as multipart form data
func (c *Client) AddDocument(ctx context.Context, patientID string, d patient.Document, content []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"patient", patientID},
		{"name", d.Name},
		{"type", d.Type},
		{"date", d.Date.String()},
		{"checksum", d.Checksum},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if content != nil {
		part, err := mw.CreateFormFile("file", d.Name)
		if err != nil {
			return fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return fmt.Errorf("write file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	_, err := c.call(ctx, request{
		group:       GroupCollections,
		method:      http.MethodPost,
		path:        pathDocuments,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	return err
}

// DeleteDocument removes one document
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.deleteItem(ctx, pathDocuments, id)
}
