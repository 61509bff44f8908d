package store

import (
	"context"
	"fmt"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
)

// Intakes lists the patient's intake records and caches them for editing
func (s *PatientStore) Intakes(ctx context.Context, patientID string) ([]intake.Record, error) {
	if err := s.exists(patientID); err != nil {
		return nil, err
	}
	records, err := s.backend.IntakeRecords(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list intake for patient %s: %w", patientID, err)
	}
	s.mu.Lock()
	for i := range records {
		if records[i].PatientID == "" {
			records[i].PatientID = patientID
		}
		s.intakes[records[i].ID] = records[i]
	}
	s.mu.Unlock()
	return records, nil
}

// IntakeForEdit returns a form prefilled from the stored record. The cached
// copy is used when present.
func (s *PatientStore) IntakeForEdit(ctx context.Context, patientID, intakeID string) (intake.Record, error) {
	r, err := s.ownedIntake(ctx, patientID, intakeID)
	if err != nil {
		return intake.Record{}, err
	}
	return intake.LoadForEdit(r), nil
}

// ownedIntake looks up an intake record of patientID. A record filed under
// another patient is reported as not found.
func (s *PatientStore) ownedIntake(ctx context.Context, patientID, intakeID string) (intake.Record, error) {
	if err := s.exists(patientID); err != nil {
		return intake.Record{}, err
	}
	s.mu.RLock()
	r, ok := s.intakes[intakeID]
	s.mu.RUnlock()
	if !ok {
		var err error
		r, err = s.backend.IntakeRecord(ctx, intakeID)
		if err != nil {
			return intake.Record{}, fmt.Errorf("load intake %s: %w", intakeID, err)
		}
		if r.PatientID == "" {
			r.PatientID = patientID
		}
		s.cacheIntake(r)
	}
	if r.PatientID != patientID {
		return intake.Record{}, fmt.Errorf("intake %s of patient %s: %w", intakeID, patientID, patient.ErrItemNotFound)
	}
	return r, nil
}

// HistoryForm returns the intake form behind one history entry. Entries
// linked to a structured record load that record. Older entries only carry
// notes text and are rebuilt from it with the legacy label parser, so values
// that span lines or contain a label come back truncated.
func (s *PatientStore) HistoryForm(ctx context.Context, patientID, entryID string) (intake.Record, error) {
	p, err := s.Get(patientID)
	if err != nil {
		return intake.Record{}, err
	}
	for _, h := range p.History {
		if h.ID != entryID {
			continue
		}
		if h.IntakeID != "" {
			return s.IntakeForEdit(ctx, patientID, h.IntakeID)
		}
		r := intake.ParseLegacyNotes(h.Notes)
		r.PatientID = patientID
		return r, nil
	}
	return intake.Record{}, fmt.Errorf("history entry %s: %w", entryID, patient.ErrItemNotFound)
}

// SubmitIntake sends a new intake record and refetches the patient's history
func (s *PatientStore) SubmitIntake(ctx context.Context, patientID string, r intake.Record) (saved intake.Record, err error) {
	if err := intake.ReadyToSubmit(patientID, r); err != nil {
		return intake.Record{}, err
	}
	err = s.mutate(ctx, mutation{
		op:        "submit_intake",
		patientID: patientID,
		event:     events.IntakeSubmitted,
		data:      map[string]string{"visitDate": r.Basic.VisitDate},
		call: func(ctx context.Context) error {
			var err error
			saved, err = s.backend.SubmitIntake(ctx, patientID, r)
			return err
		},
		refresh: func(ctx context.Context) error {
			if saved.PatientID == "" {
				saved.PatientID = patientID
			}
			s.cacheIntake(saved)
			_, err := s.RefreshHistory(ctx, patientID)
			return err
		},
	})
	return saved, err
}

// UpdateIntake replaces a stored intake record and refetches the history
func (s *PatientStore) UpdateIntake(ctx context.Context, patientID, intakeID string, r intake.Record) (saved intake.Record, err error) {
	if err := intake.ReadyToSubmit(patientID, r); err != nil {
		return intake.Record{}, err
	}
	if _, err := s.ownedIntake(ctx, patientID, intakeID); err != nil {
		return intake.Record{}, err
	}
	err = s.mutate(ctx, mutation{
		op:        "update_intake",
		patientID: patientID,
		itemID:    intakeID,
		event:     events.IntakeUpdated,
		data:      map[string]string{"intakeId": intakeID},
		call: func(ctx context.Context) error {
			var err error
			saved, err = s.backend.UpdateIntake(ctx, intakeID, patientID, r)
			return err
		},
		refresh: func(ctx context.Context) error {
			if saved.ID == "" {
				saved.ID = intakeID
			}
			if saved.PatientID == "" {
				saved.PatientID = patientID
			}
			s.cacheIntake(saved)
			_, err := s.RefreshHistory(ctx, patientID)
			return err
		},
	})
	return saved, err
}

func (s *PatientStore) cacheIntake(r intake.Record) {
	if r.ID == "" {
		return
	}
	s.mu.Lock()
	s.intakes[r.ID] = r
	s.mu.Unlock()
}
