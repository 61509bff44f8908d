// Package store holds the in-memory patient record store kept in step with the
// clinic API.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/pkg/idempotency"
)

// DefaultDeleteTTL is how long a delete confirmation token stays valid.
const DefaultDeleteTTL = 2 * time.Minute

// ErrConfirmationRequired is returned when a delete is confirmed with a
// missing, wrong or expired token.
var ErrConfirmationRequired = errors.New("delete confirmation required")

// Backend is the part of the clinic API the store depends on.
type Backend interface {
	ListPatients(ctx context.Context, fallback func(cause error) ([]patient.Patient, error)) ([]patient.Patient, error)
	GetPatient(ctx context.Context, id string) (patient.Record, error)
	CreatePatient(ctx context.Context, form patient.NewPatientForm) (patient.Record, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	DeletePatient(ctx context.Context, id string) error

	Medications(ctx context.Context, patientID string) ([]patient.Medication, error)
	AddMedication(ctx context.Context, patientID string, m patient.Medication) error
	DeleteMedication(ctx context.Context, id string) error
	Vitals(ctx context.Context, patientID string) ([]patient.VitalSign, error)
	AddVitals(ctx context.Context, patientID string, v patient.VitalSign) error
	DeleteVitals(ctx context.Context, id string) error
	History(ctx context.Context, patientID string) ([]patient.HistoryEntry, error)
	AddHistory(ctx context.Context, patientID string, h patient.HistoryEntry) error
	DeleteHistory(ctx context.Context, id string) error
	Documents(ctx context.Context, patientID string) ([]patient.Document, error)
	AddDocument(ctx context.Context, patientID string, d patient.Document, content []byte) error
	DeleteDocument(ctx context.Context, id string) error

	IntakeRecords(ctx context.Context, patientID string) ([]intake.Record, error)
	IntakeRecord(ctx context.Context, id string) (intake.Record, error)
	SubmitIntake(ctx context.Context, patientID string, r intake.Record) (intake.Record, error)
	UpdateIntake(ctx context.Context, id, patientID string, r intake.Record) (intake.Record, error)
}

// Observer receives store metrics.
type Observer interface {
	ObserveMutation(operation string, err error)
	ObserveFallback()
	ObserveRejected()
	ObservePatients(n int)
}

// Snapshot is a consistent view of the patient list.
type Snapshot struct {
	Patients []patient.Patient `json:"patients"`
	// Offline is set while the list is the sample dataset.
	Offline  bool      `json:"offline"`
	Notice   string    `json:"notice,omitempty"`
	Cause    string    `json:"-"`
	LoadedAt time.Time `json:"loadedAt"`
}

// DeleteConfirmation is the token a caller must echo to delete a patient.
type DeleteConfirmation struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type pendingDelete struct {
	token   string
	expires time.Time
}

// Option configures a PatientStore.
type Option func(*PatientStore)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *PatientStore) { s.now = now }
}

// WithObserver reports store metrics to o
func WithObserver(o Observer) Option {
	return func(s *PatientStore) { s.obs = o }
}

// WithoutFallback disables the offline sample dataset
func WithoutFallback() Option {
	return func(s *PatientStore) { s.fallback = false }
}

// WithDeleteTTL overrides DefaultDeleteTTL
func WithDeleteTTL(ttl time.Duration) Option {
	return func(s *PatientStore) { s.deleteTTL = ttl }
}

// PatientStore is the authoritative in-memory patient list. Backend calls run
// outside the lock and their results are applied last-write-wins.
type PatientStore struct {
	mu       sync.RWMutex
	patients []patient.Patient
	loaded   bool
	offline  bool
	cause    error
	loadedAt time.Time
	intakes  map[string]intake.Record
	deletes  map[string]pendingDelete

	backend   Backend
	sink      events.Sink
	guard     *idempotency.Guard
	obs       Observer
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	fallback  bool
	deleteTTL time.Duration
}

// New creates a store backed by the clinic API
func New(backend Backend, sink events.Sink, logger *zap.Logger, opts ...Option) *PatientStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	s := &PatientStore{
		intakes:   make(map[string]intake.Record),
		deletes:   make(map[string]pendingDelete),
		backend:   backend,
		sink:      sink,
		guard:     idempotency.NewGuard(),
		logger:    logger,
		tracer:    otel.Tracer("patient-store"),
		now:       time.Now,
		fallback:  true,
		deleteTTL: DefaultDeleteTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the patient list from the clinic API. When the API is
// unavailable the sample dataset is loaded and the snapshot is flagged offline.
// Owned collections already fetched for a patient are kept.
func (s *PatientStore) Load(ctx context.Context) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "store.load")
	defer span.End()

	release, err := s.acquire("load")
	if err != nil {
		return Snapshot{}, err
	}
	defer release()

	var (
		cause    error
		fallback func(error) ([]patient.Patient, error)
	)
	if s.fallback {
		fallback = func(err error) ([]patient.Patient, error) {
			cause = err
			return samplePatients(s.now()), nil
		}
	}

	list, err := s.backend.ListPatients(ctx, fallback)
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("load patients: %w", err)
	}

	if cause != nil {
		s.logger.Warn("clinic api unavailable, serving sample patients", zap.Error(cause))
		if s.obs != nil {
			s.obs.ObserveFallback()
		}
	}
	span.SetAttributes(attribute.Int("patients", len(list)), attribute.Bool("offline", cause != nil))

	s.mu.Lock()
	known := make(map[string]patient.Patient, len(s.patients))
	for _, p := range s.patients {
		known[p.ID] = p
	}
	next := make([]patient.Patient, 0, len(list))
	for _, p := range list {
		if prev, ok := known[p.ID]; ok {
			p.Archived = prev.Archived
			p.Medications = prev.Medications
			p.Vitals = prev.Vitals
			p.History = prev.History
			p.Documents = prev.Documents
		}
		next = append(next, p)
	}
	s.patients = next
	s.loaded = true
	s.offline = cause != nil
	s.cause = cause
	s.loadedAt = s.now()
	snap := s.snapshotLocked(patient.Filter{IncludeArchived: true})
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.ObservePatients(len(next))
	}
	return snap, nil
}

// EnsureLoaded loads the list on first use
func (s *PatientStore) EnsureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := s.Load(ctx)
	if errors.Is(err, idempotency.ErrActionInFlight) {
		// Another caller is loading; serve what is there
		return nil
	}
	return err
}

// List returns the patients matching f. It never mutates the store.
func (s *PatientStore) List(f patient.Filter) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(f)
}

func (s *PatientStore) snapshotLocked(f patient.Filter) Snapshot {
	snap := Snapshot{
		Patients: patient.Apply(s.patients, f),
		Offline:  s.offline,
		LoadedAt: s.loadedAt,
	}
	if s.offline {
		snap.Notice = OfflineNotice
		if s.cause != nil {
			snap.Cause = s.cause.Error()
		}
	}
	return snap
}

// Offline reports whether the store is serving sample data
func (s *PatientStore) Offline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offline
}

// Get returns a copy of one patient
func (s *PatientStore) Get(id string) (patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return patient.Patient{}, patient.ErrPatientNotFound
	}
	return s.patients[i].Clone(), nil
}

func (s *PatientStore) indexLocked(id string) int {
	for i := range s.patients {
		if s.patients[i].ID == id {
			return i
		}
	}
	return -1
}

// apply runs fn on the stored patient under the write lock.
func (s *PatientStore) apply(id string, fn func(p *patient.Patient)) (patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return patient.Patient{}, patient.ErrPatientNotFound
	}
	fn(&s.patients[i])
	return s.patients[i].Clone(), nil
}

func (s *PatientStore) exists(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.indexLocked(id) < 0 {
		return patient.ErrPatientNotFound
	}
	return nil
}

// Refresh re-reads one patient's demographics and all owned collections.
// Summary fields assigned by the store are kept.
func (s *PatientStore) Refresh(ctx context.Context, id string) (patient.Patient, error) {
	ctx, span := s.tracer.Start(ctx, "store.refresh", trace.WithAttributes(attribute.String("patient_id", id)))
	defer span.End()

	if err := s.exists(id); err != nil {
		return patient.Patient{}, err
	}
	rec, err := s.backend.GetPatient(ctx, id)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("refresh patient %s: %w", id, err)
	}
	fresh := rec.ToPatient(s.now())
	if _, err := s.apply(id, func(p *patient.Patient) {
		p.Name = fresh.Name
		p.Age = fresh.Age
		p.BirthDate = fresh.BirthDate
		p.Gender = fresh.Gender
		p.Phone = fresh.Phone
		p.Email = fresh.Email
		p.Address = fresh.Address
		p.BloodType = fresh.BloodType
		p.Insurance = fresh.Insurance
	}); err != nil {
		return patient.Patient{}, err
	}

	if _, err := s.RefreshMedications(ctx, id); err != nil {
		return patient.Patient{}, err
	}
	if _, err := s.RefreshVitals(ctx, id); err != nil {
		return patient.Patient{}, err
	}
	if _, err := s.RefreshHistory(ctx, id); err != nil {
		return patient.Patient{}, err
	}
	if _, err := s.RefreshDocuments(ctx, id); err != nil {
		return patient.Patient{}, err
	}
	return s.Get(id)
}

// Create validates the form, registers the patient and inserts it at the head
// of the list. An invalid form never reaches the clinic API.
func (s *PatientStore) Create(ctx context.Context, form patient.NewPatientForm) (p patient.Patient, err error) {
	ctx, span := s.tracer.Start(ctx, "store.create")
	defer span.End()
	defer func() { s.observe("create", err) }()

	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return patient.Patient{}, err
	}

	release, err := s.acquire("create:" + form.PassportSeries + form.PassportNumber)
	if err != nil {
		return patient.Patient{}, err
	}
	defer release()

	rec, err := s.backend.CreatePatient(ctx, form)
	if err != nil {
		span.RecordError(err)
		return patient.Patient{}, fmt.Errorf("create patient: %w", err)
	}
	p = patient.Registered(rec, form, s.now())

	s.mu.Lock()
	if i := s.indexLocked(p.ID); i >= 0 {
		s.patients = append(s.patients[:i], s.patients[i+1:]...)
	}
	s.patients = append([]patient.Patient{p}, s.patients...)
	n := len(s.patients)
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.ObservePatients(n)
	}
	s.emit(ctx, p.ID, events.PatientCreated, map[string]string{"name": p.Name})
	return p.Clone(), nil
}

// Archive hides a patient from the default list. Owned collections are kept.
func (s *PatientStore) Archive(ctx context.Context, id string) (patient.Patient, error) {
	return s.setArchived(ctx, id, true)
}

// Unarchive restores an archived patient
func (s *PatientStore) Unarchive(ctx context.Context, id string) (patient.Patient, error) {
	return s.setArchived(ctx, id, false)
}

func (s *PatientStore) setArchived(ctx context.Context, id string, archived bool) (p patient.Patient, err error) {
	op, eventType := "archive", events.PatientArchived
	if !archived {
		op, eventType = "unarchive", events.PatientUnarchived
	}
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attribute.String("patient_id", id)))
	defer span.End()
	defer func() { s.observe(op, err) }()

	if err := s.exists(id); err != nil {
		return patient.Patient{}, err
	}
	release, err := s.acquire("archive:" + id)
	if err != nil {
		return patient.Patient{}, err
	}
	defer release()

	if err := s.backend.SetArchived(ctx, id, archived); err != nil {
		span.RecordError(err)
		return patient.Patient{}, fmt.Errorf("%s patient %s: %w", op, id, err)
	}
	p, err = s.apply(id, func(p *patient.Patient) { p.Archived = archived })
	if err != nil {
		return patient.Patient{}, err
	}
	s.emit(ctx, id, eventType, nil)
	return p, nil
}

// RequestDelete issues a single-use confirmation token for deleting id
func (s *PatientStore) RequestDelete(id string) (DeleteConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return DeleteConfirmation{}, patient.ErrPatientNotFound
	}
	c := DeleteConfirmation{Token: uuid.NewString(), ExpiresAt: s.now().Add(s.deleteTTL)}
	s.deletes[id] = pendingDelete{token: c.Token, expires: c.ExpiresAt}
	return c, nil
}

// ConfirmDelete permanently removes the patient and all owned collections.
// The token is consumed whether or not the clinic API call succeeds.
func (s *PatientStore) ConfirmDelete(ctx context.Context, id, token string) (err error) {
	ctx, span := s.tracer.Start(ctx, "store.delete", trace.WithAttributes(attribute.String("patient_id", id)))
	defer span.End()
	defer func() { s.observe("delete", err) }()

	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return patient.ErrPatientNotFound
	}
	pending, ok := s.deletes[id]
	valid := ok && token != "" && pending.token == token && s.now().Before(pending.expires)
	if ok && (valid || !s.now().Before(pending.expires)) {
		delete(s.deletes, id)
	}
	s.mu.Unlock()
	if !valid {
		return ErrConfirmationRequired
	}

	release, err := s.acquire("delete:" + id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.backend.DeletePatient(ctx, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete patient %s: %w", id, err)
	}

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.patients = append(s.patients[:i], s.patients[i+1:]...)
	}
	for key, r := range s.intakes {
		if r.PatientID == id {
			delete(s.intakes, key)
		}
	}
	n := len(s.patients)
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.ObservePatients(n)
	}
	s.emit(ctx, id, events.PatientDeleted, nil)
	return nil
}

func (s *PatientStore) acquire(key string) (func(), error) {
	release, err := s.guard.Acquire(key)
	if err != nil {
		if s.obs != nil {
			s.obs.ObserveRejected()
		}
		s.logger.Debug("action already in flight", zap.String("key", key))
		return nil, err
	}
	return release, nil
}

func (s *PatientStore) observe(op string, err error) {
	if s.obs != nil {
		s.obs.ObserveMutation(op, err)
	}
}

// emit records an event after a successful mutation. Sink failures are
// logged; the mutation has already been applied.
func (s *PatientStore) emit(ctx context.Context, patientID string, eventType events.EventType, data interface{}) {
	event, err := events.FromContext(ctx, events.AggregatePatient, patientID, eventType, data)
	if err != nil {
		s.logger.Error("failed to build patient event", zap.Error(err))
		return
	}
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record patient event",
			zap.String("event_type", string(eventType)),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
