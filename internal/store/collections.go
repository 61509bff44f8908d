package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
)

// mutation describes one change to an owned collection.
type mutation struct {
	op        string
	patientID string
	itemID    string
	event     events.EventType
	data      interface{}
	call      func(ctx context.Context) error
	refresh   func(ctx context.Context) error
}

// mutate guards, calls the clinic API, then refetches the collection so
// server-derived fields are reconciled.
func (s *PatientStore) mutate(ctx context.Context, m mutation) (err error) {
	ctx, span := s.tracer.Start(ctx, "store."+m.op, trace.WithAttributes(
		attribute.String("patient_id", m.patientID),
		attribute.String("item_id", m.itemID),
	))
	defer span.End()
	defer func() { s.observe(m.op, err) }()

	if err := s.exists(m.patientID); err != nil {
		return err
	}
	key := m.op + ":" + m.patientID
	if m.itemID != "" {
		key += ":" + m.itemID
	}
	release, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer release()

	if err := m.call(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s for patient %s: %w", m.op, m.patientID, err)
	}
	if err := m.refresh(ctx); err != nil {
		return fmt.Errorf("%s for patient %s: refetch: %w", m.op, m.patientID, err)
	}
	s.emit(ctx, m.patientID, m.event, m.data)
	return nil
}

// hasItem checks that id belongs to the patient's collection chosen by pick.
func (s *PatientStore) hasItem(patientID, id string, pick func(p patient.Patient) []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(patientID)
	if i < 0 {
		return patient.ErrPatientNotFound
	}
	for _, have := range pick(s.patients[i]) {
		if have == id {
			return nil
		}
	}
	return patient.ErrItemNotFound
}

// RefreshMedications refetches the patient's medications
func (s *PatientStore) RefreshMedications(ctx context.Context, patientID string) ([]patient.Medication, error) {
	list, err := s.backend.Medications(ctx, patientID)
	if err != nil {
		return nil, err
	}
	p, err := s.apply(patientID, func(p *patient.Patient) { p.Medications = list })
	return p.Medications, err
}

// AddMedication validates and adds a medication
func (s *PatientStore) AddMedication(ctx context.Context, patientID string, m patient.Medication) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "add_medication",
		patientID: patientID,
		event:     events.MedicationAdded,
		data:      m,
		call:      func(ctx context.Context) error { return s.backend.AddMedication(ctx, patientID, m) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshMedications(ctx, patientID); return err },
	})
}

// DeleteMedication removes one medication
func (s *PatientStore) DeleteMedication(ctx context.Context, patientID, id string) error {
	if err := s.hasItem(patientID, id, func(p patient.Patient) []string {
		ids := make([]string, len(p.Medications))
		for i, m := range p.Medications {
			ids[i] = m.ID
		}
		return ids
	}); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "delete_medication",
		patientID: patientID,
		itemID:    id,
		event:     events.MedicationDeleted,
		data:      map[string]string{"id": id},
		call:      func(ctx context.Context) error { return s.backend.DeleteMedication(ctx, id) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshMedications(ctx, patientID); return err },
	})
}

// RefreshVitals refetches the patient's readings, most recent first
func (s *PatientStore) RefreshVitals(ctx context.Context, patientID string) ([]patient.VitalSign, error) {
	list, err := s.backend.Vitals(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = list[i].Normalize()
	}
	patient.SortVitals(list)
	p, err := s.apply(patientID, func(p *patient.Patient) { p.Vitals = list })
	return p.Vitals, err
}

// AddVitals validates and records a reading
func (s *PatientStore) AddVitals(ctx context.Context, patientID string, v patient.VitalSign) error {
	if err := v.Validate(); err != nil {
		return err
	}
	v = v.Normalize()
	return s.mutate(ctx, mutation{
		op:        "add_vitals",
		patientID: patientID,
		event:     events.VitalsAdded,
		data:      v,
		call:      func(ctx context.Context) error { return s.backend.AddVitals(ctx, patientID, v) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshVitals(ctx, patientID); return err },
	})
}

// DeleteVitals removes one reading
func (s *PatientStore) DeleteVitals(ctx context.Context, patientID, id string) error {
	if err := s.hasItem(patientID, id, func(p patient.Patient) []string {
		ids := make([]string, len(p.Vitals))
		for i, v := range p.Vitals {
			ids[i] = v.ID
		}
		return ids
	}); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "delete_vitals",
		patientID: patientID,
		itemID:    id,
		event:     events.VitalsDeleted,
		data:      map[string]string{"id": id},
		call:      func(ctx context.Context) error { return s.backend.DeleteVitals(ctx, id) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshVitals(ctx, patientID); return err },
	})
}

// RefreshHistory refetches simple history entries and intake records, then
// rebuilds the history with one summarized entry per intake record.
// Registration entries created by this store are kept.
func (s *PatientStore) RefreshHistory(ctx context.Context, patientID string) ([]patient.HistoryEntry, error) {
	entries, err := s.backend.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	records, err := s.backend.IntakeRecords(ctx, patientID)
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		entries = append(entries, intake.Summarize(r))
	}

	for _, r := range records {
		if r.PatientID == "" {
			r.PatientID = patientID
		}
		s.cacheIntake(r)
	}

	p, err := s.apply(patientID, func(p *patient.Patient) {
		for _, h := range p.History {
			if strings.HasPrefix(h.ID, "reg-") {
				entries = append(entries, h)
			}
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Date.After(entries[j].Date.Time)
		})
		p.History = entries
	})
	return p.History, err
}

// AddHistory validates and adds a history entry
func (s *PatientStore) AddHistory(ctx context.Context, patientID string, h patient.HistoryEntry) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "add_history",
		patientID: patientID,
		event:     events.HistoryAdded,
		data:      map[string]string{"type": h.Type, "diagnosis": h.Diagnosis},
		call:      func(ctx context.Context) error { return s.backend.AddHistory(ctx, patientID, h) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshHistory(ctx, patientID); return err },
	})
}

// DeleteHistory removes one simple history entry
func (s *PatientStore) DeleteHistory(ctx context.Context, patientID, id string) error {
	if err := s.hasItem(patientID, id, func(p patient.Patient) []string {
		ids := make([]string, len(p.History))
		for i, h := range p.History {
			ids[i] = h.ID
		}
		return ids
	}); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "delete_history",
		patientID: patientID,
		itemID:    id,
		event:     events.HistoryDeleted,
		data:      map[string]string{"id": id},
		call:      func(ctx context.Context) error { return s.backend.DeleteHistory(ctx, id) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshHistory(ctx, patientID); return err },
	})
}

// RefreshDocuments refetches the patient's documents
func (s *PatientStore) RefreshDocuments(ctx context.Context, patientID string) ([]patient.Document, error) {
	list, err := s.backend.Documents(ctx, patientID)
	if err != nil {
		return nil, err
	}
	p, err := s.apply(patientID, func(p *patient.Patient) { p.Documents = list })
	return p.Documents, err
}

// AddDocument uploads a document. Size and checksum are taken from content.
func (s *PatientStore) AddDocument(ctx context.Context, patientID string, d patient.Document, content []byte) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if content != nil {
		sum := sha256.Sum256(content)
		d.Size = int64(len(content))
		d.Checksum = hex.EncodeToString(sum[:])
	}
	if d.Date.IsZero() {
		d.Date = patient.NewDate(s.now())
	}
	return s.mutate(ctx, mutation{
		op:        "add_document",
		patientID: patientID,
		event:     events.DocumentAdded,
		data:      map[string]interface{}{"name": d.Name, "size": d.Size},
		call:      func(ctx context.Context) error { return s.backend.AddDocument(ctx, patientID, d, content) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshDocuments(ctx, patientID); return err },
	})
}

// DeleteDocument removes one document
func (s *PatientStore) DeleteDocument(ctx context.Context, patientID, id string) error {
	if err := s.hasItem(patientID, id, func(p patient.Patient) []string {
		ids := make([]string, len(p.Documents))
		for i, d := range p.Documents {
			ids[i] = d.ID
		}
		return ids
	}); err != nil {
		return err
	}
	return s.mutate(ctx, mutation{
		op:        "delete_document",
		patientID: patientID,
		itemID:    id,
		event:     events.DocumentDeleted,
		data:      map[string]string{"id": id},
		call:      func(ctx context.Context) error { return s.backend.DeleteDocument(ctx, id) },
		refresh:   func(ctx context.Context) error { _, err := s.RefreshDocuments(ctx, patientID); return err },
	})
}
