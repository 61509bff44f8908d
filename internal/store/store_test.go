package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/internal/domain/validation"
	"github.com/avishifo/records/pkg/idempotency"
)

var errUnavailable = errors.New("connection refused")

// fakeBackend is an in-memory clinic API.
type fakeBackend struct {
	mu       sync.Mutex
	patients []patient.Patient
	meds     map[string][]patient.Medication
	vitals   map[string][]patient.VitalSign
	history  map[string][]patient.HistoryEntry
	docs     map[string][]patient.Document
	intakes  map[string][]intake.Record
	nextID   int
	listErr  error
	calls    atomic.Int32
	block    chan struct{}
	lastDoc  []byte
}

func newFakeBackend(patients ...patient.Patient) *fakeBackend {
	return &fakeBackend{
		patients: patients,
		meds:     map[string][]patient.Medication{},
		vitals:   map[string][]patient.VitalSign{},
		history:  map[string][]patient.HistoryEntry{},
		docs:     map[string][]patient.Document{},
		intakes:  map[string][]intake.Record{},
		nextID:   100,
	}
}

func (f *fakeBackend) id() string {
	f.nextID++
	return fmt.Sprint(f.nextID)
}

func (f *fakeBackend) wait() {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeBackend) ListPatients(ctx context.Context, fallback func(error) ([]patient.Patient, error)) ([]patient.Patient, error) {
	f.wait()
	if f.listErr != nil {
		if fallback != nil {
			return fallback(f.listErr)
		}
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patient.Patient(nil), f.patients...), nil
}

func (f *fakeBackend) GetPatient(ctx context.Context, id string) (patient.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.ID == id {
			return patient.Record{ID: id, FullName: p.Name + " (upd)"}, nil
		}
	}
	return patient.Record{}, errors.New("404")
}

func (f *fakeBackend) CreatePatient(ctx context.Context, form patient.NewPatientForm) (patient.Record, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return patient.Record{ID: f.id(), FullName: form.FISH}, nil
}

func (f *fakeBackend) SetArchived(ctx context.Context, id string, archived bool) error {
	f.wait()
	return nil
}

func (f *fakeBackend) DeletePatient(ctx context.Context, id string) error {
	f.wait()
	return nil
}

func (f *fakeBackend) Medications(ctx context.Context, pid string) ([]patient.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patient.Medication{}, f.meds[pid]...), nil
}

func (f *fakeBackend) AddMedication(ctx context.Context, pid string, m patient.Medication) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = f.id()
	f.meds[pid] = append(f.meds[pid], m)
	return nil
}

func (f *fakeBackend) DeleteMedication(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pid, list := range f.meds {
		for i, m := range list {
			if m.ID == id {
				f.meds[pid] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return errors.New("404")
}

func (f *fakeBackend) Vitals(ctx context.Context, pid string) ([]patient.VitalSign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patient.VitalSign{}, f.vitals[pid]...), nil
}

func (f *fakeBackend) AddVitals(ctx context.Context, pid string, v patient.VitalSign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.ID = f.id()
	f.vitals[pid] = append(f.vitals[pid], v)
	return nil
}

func (f *fakeBackend) DeleteVitals(ctx context.Context, id string) error { return nil }

func (f *fakeBackend) History(ctx context.Context, pid string) ([]patient.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patient.HistoryEntry{}, f.history[pid]...), nil
}

func (f *fakeBackend) AddHistory(ctx context.Context, pid string, h patient.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = f.id()
	f.history[pid] = append(f.history[pid], h)
	return nil
}

func (f *fakeBackend) DeleteHistory(ctx context.Context, id string) error { return nil }

func (f *fakeBackend) Documents(ctx context.Context, pid string) ([]patient.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patient.Document{}, f.docs[pid]...), nil
}

func (f *fakeBackend) AddDocument(ctx context.Context, pid string, d patient.Document, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = f.id()
	f.docs[pid] = append(f.docs[pid], d)
	f.lastDoc = content
	return nil
}

func (f *fakeBackend) DeleteDocument(ctx context.Context, id string) error { return nil }

func (f *fakeBackend) IntakeRecords(ctx context.Context, pid string) ([]intake.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]intake.Record{}, f.intakes[pid]...), nil
}

func (f *fakeBackend) IntakeRecord(ctx context.Context, id string) (intake.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.intakes {
		for _, r := range list {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return intake.Record{}, errors.New("404")
}

func (f *fakeBackend) SubmitIntake(ctx context.Context, pid string, r intake.Record) (intake.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r = r.Clone()
	r.ID = f.id()
	r.PatientID = pid
	f.intakes[pid] = append(f.intakes[pid], r)
	return r, nil
}

func (f *fakeBackend) UpdateIntake(ctx context.Context, id, pid string, r intake.Record) (intake.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r = r.Clone()
	r.ID = id
	r.PatientID = pid
	for i, have := range f.intakes[pid] {
		if have.ID == id {
			f.intakes[pid][i] = r
		}
	}
	return r, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *recordingSink) Record(_ context.Context, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func seeded() []patient.Patient {
	return []patient.Patient{
		{ID: "p1", Name: "Karimov Aziz", LastDiagnosis: "Gipertoniya", Status: patient.StatusObservation},
		{ID: "p2", Name: "Rahimova Dilnoza", LastDiagnosis: "Astma", Status: patient.StatusActiveTreatment},
		{ID: "p3", Name: "Toshmatov Bekzod", LastDiagnosis: "Diabet", Status: patient.StatusObservation},
	}
}

func newTestStore(t *testing.T, b *fakeBackend, opts ...Option) (*PatientStore, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s := New(b, sink, nil, opts...)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, sink
}

func TestLoadFallbackIsFlagged(t *testing.T) {
	b := newFakeBackend()
	b.listErr = errUnavailable
	s := New(b, nil, nil, WithClock(func() time.Time { return testNow }))

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Offline || snap.Notice == "" {
		t.Errorf("fallback not flagged: %+v", snap)
	}
	if len(snap.Patients) != 2 || !strings.Contains(snap.Patients[0].Name, "(Fallback)") {
		t.Errorf("patients = %+v", snap.Patients)
	}
	if !strings.Contains(snap.Cause, "connection refused") {
		t.Errorf("cause = %q", snap.Cause)
	}

	b.listErr = nil
	b.patients = seeded()
	snap, _ = s.Load(context.Background())
	if snap.Offline || snap.Notice != "" {
		t.Error("offline flag not cleared after a successful load")
	}
}

func TestLoadWithoutFallbackFails(t *testing.T) {
	b := newFakeBackend()
	b.listErr = errUnavailable
	s := New(b, nil, nil, WithoutFallback())
	if _, err := s.Load(context.Background()); !errors.Is(err, errUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestListFilter(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))

	tests := []struct {
		name   string
		filter patient.Filter
		want   []string
	}{
		{"all", patient.Filter{}, []string{"p1", "p2", "p3"}},
		{"name case-insensitive", patient.Filter{Search: "KARIMOV"}, []string{"p1"}},
		{"diagnosis", patient.Filter{Search: "astma"}, []string{"p2"}},
		{"id", patient.Filter{Search: "p3"}, []string{"p3"}},
		{"status", patient.Filter{Status: patient.StatusObservation}, []string{"p1", "p3"}},
		{"search and status", patient.Filter{Search: "ov", Status: patient.StatusObservation}, []string{"p1", "p3"}},
		{"no match", patient.Filter{Search: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := s.List(tt.filter)
			var got []string
			for _, p := range snap.Patients {
				got = append(got, p.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListDoesNotShareState(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))
	snap := s.List(patient.Filter{})
	snap.Patients[0].Name = "mutated"
	if p, _ := s.Get("p1"); p.Name != "Karimov Aziz" {
		t.Error("List returned shared state")
	}
}

func TestCreateRejectsInvalidFormWithoutCall(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, sink := newTestStore(t, b)
	before := b.calls.Load()

	_, err := s.Create(context.Background(), patient.NewPatientForm{FISH: "Ivanov I.I.", PassportNumber: "1234567"})
	if !errors.Is(err, validation.ErrMissingRequiredField) {
		t.Fatalf("err = %v", err)
	}
	if b.calls.Load() != before {
		t.Error("backend was called for an invalid form")
	}
	if n := len(s.List(patient.Filter{}).Patients); n != 3 {
		t.Errorf("store mutated: %d patients", n)
	}
	if len(sink.types()) != 0 {
		t.Error("event emitted for rejected create")
	}
}

func TestCreateInsertsAtHead(t *testing.T) {
	s, sink := newTestStore(t, newFakeBackend(seeded()...))

	p, err := s.Create(context.Background(), patient.NewPatientForm{
		FISH: "Yusupov Jamshid", PassportSeries: "ab", PassportNumber: "12-34-567",
	})
	if err != nil {
		t.Fatal(err)
	}
	list := s.List(patient.Filter{}).Patients
	if list[0].ID != p.ID {
		t.Errorf("new patient not at head: %s", list[0].ID)
	}
	if p.Status != patient.StatusNew || p.Insurance != "ОМС №AB1234567" {
		t.Errorf("status/insurance = %s / %s", p.Status, p.Insurance)
	}
	if len(p.History) != 1 || p.History[0].Notes != "Паспорт: AB 1234567" {
		t.Errorf("history = %+v", p.History)
	}
	if got := sink.types(); len(got) != 1 || got[0] != events.PatientCreated {
		t.Errorf("events = %v", got)
	}
}

func TestArchiveKeepsCollections(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, _ := newTestStore(t, b)
	ctx := context.Background()

	if err := s.AddMedication(ctx, "p1", patient.Medication{Name: "Lisinopril", Dosage: "10mg", Frequency: "1x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Archive(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	for _, p := range s.List(patient.Filter{}).Patients {
		if p.ID == "p1" {
			t.Fatal("archived patient in default list")
		}
	}
	if got := s.List(patient.Filter{ArchivedOnly: true}).Patients; len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("archived list = %+v", got)
	}

	p, err := s.Unarchive(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Medications) != 1 || p.Medications[0].Name != "Lisinopril" {
		t.Errorf("collections lost: %+v", p.Medications)
	}
	if len(s.List(patient.Filter{}).Patients) != 3 {
		t.Error("unarchived patient not restored to default list")
	}
}

func TestTwoStepDelete(t *testing.T) {
	s, sink := newTestStore(t, newFakeBackend(seeded()...))
	ctx := context.Background()

	if err := s.ConfirmDelete(ctx, "p1", ""); !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("delete without token: %v", err)
	}

	c, err := s.RequestDelete("p1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmDelete(ctx, "p1", "wrong"); !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("delete with wrong token: %v", err)
	}
	if err := s.ConfirmDelete(ctx, "p1", c.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("p1"); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := s.ConfirmDelete(ctx, "p1", c.Token); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if _, err := s.Archive(ctx, "p1"); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("archive after delete: %v", err)
	}

	found := false
	for _, et := range sink.types() {
		if et == events.PatientDeleted {
			found = true
		}
	}
	if !found {
		t.Error("no delete event")
	}
}

func TestDeleteTokenExpires(t *testing.T) {
	now := testNow
	s := New(newFakeBackend(seeded()...), nil, nil, WithClock(func() time.Time { return now }))
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, _ := s.RequestDelete("p2")
	now = now.Add(DefaultDeleteTTL + time.Second)
	if err := s.ConfirmDelete(context.Background(), "p2", c.Token); !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("expired token accepted: %v", err)
	}
	if _, err := s.Get("p2"); err != nil {
		t.Error("patient deleted with expired token")
	}
}

func TestInFlightGuard(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, _ := newTestStore(t, b)
	b.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Archive(context.Background(), "p1")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Archive(context.Background(), "p1"); !errors.Is(err, idempotency.ErrActionInFlight) {
		t.Errorf("duplicate archive: %v", err)
	}
	close(b.block)
	if err := <-done; err != nil {
		t.Errorf("first archive: %v", err)
	}
}

func TestCollectionValidation(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"medication without dosage", func() error {
			return s.AddMedication(ctx, "p1", patient.Medication{Name: "X", Frequency: "1x"})
		}},
		{"vitals without pulse", func() error {
			return s.AddVitals(ctx, "p1", patient.VitalSign{Date: patient.NewDate(testNow), Systolic: 120, Diastolic: 80})
		}},
		{"history without diagnosis", func() error {
			return s.AddHistory(ctx, "p1", patient.HistoryEntry{Date: patient.NewDate(testNow), Type: "Osmotr"})
		}},
		{"document without name", func() error {
			return s.AddDocument(ctx, "p1", patient.Document{}, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, validation.ErrMissingRequiredField) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestVitalsSortedAndComposed(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))
	ctx := context.Background()

	for i, day := range []int{1, 3, 2} {
		v := patient.VitalSign{
			Date:      patient.NewDate(testNow.AddDate(0, 0, day)),
			Systolic:  120 + i,
			Diastolic: 80,
			Pulse:     70,
		}
		if err := s.AddVitals(ctx, "p1", v); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := s.Get("p1")
	if len(p.Vitals) != 3 || p.Vitals[0].BP != "121/80" || p.Vitals[2].BP != "120/80" {
		t.Errorf("vitals = %+v", p.Vitals)
	}
}

func TestDeleteUnknownItem(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))
	if err := s.DeleteMedication(context.Background(), "p1", "nope"); !errors.Is(err, patient.ErrItemNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestAddDocumentChecksum(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, _ := newTestStore(t, b)

	if err := s.AddDocument(context.Background(), "p1", patient.Document{Name: "analiz.pdf", Type: "lab"}, []byte("pdf")); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get("p1")
	if len(p.Documents) != 1 || p.Documents[0].Size != 3 || len(p.Documents[0].Checksum) != 64 {
		t.Errorf("documents = %+v", p.Documents)
	}
	if string(b.lastDoc) != "pdf" {
		t.Error("content not uploaded")
	}
}

func TestIntakeLifecycle(t *testing.T) {
	s, sink := newTestStore(t, newFakeBackend(seeded()...))
	ctx := context.Background()

	rec := intake.NewRecord()
	rec.Basic.VisitDate = "2025-05-30"
	rec.Basic.MainComplaints = "Yo'tal\nHarorat"
	rec.Basic.Nationality = "O'zbek"

	if _, err := s.SubmitIntake(ctx, "", rec); !errors.Is(err, intake.ErrMissingPatientReference) {
		t.Errorf("missing patient: %v", err)
	}

	saved, err := s.SubmitIntake(ctx, "p1", rec)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get("p1")
	if len(p.History) != 1 || p.History[0].IntakeID != saved.ID || p.History[0].Diagnosis != "Yo'tal" {
		t.Fatalf("history = %+v", p.History)
	}

	form, err := s.IntakeForEdit(ctx, "p1", saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if form.Basic.Nationality != "O'zbek" {
		t.Errorf("edit form lost a field: %+v", form.Basic)
	}

	form.Basic.MainComplaints = "Bosh og'rig'i"
	if _, err := s.UpdateIntake(ctx, "p1", saved.ID, form); err != nil {
		t.Fatal(err)
	}
	p, _ = s.Get("p1")
	if len(p.History) != 1 || p.History[0].Diagnosis != "Bosh og'rig'i" {
		t.Errorf("history after update = %+v", p.History)
	}

	got := sink.types()
	if got[len(got)-2] != events.IntakeSubmitted || got[len(got)-1] != events.IntakeUpdated {
		t.Errorf("events = %v", got)
	}
}

func TestIntakeBelongsToItsPatient(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, sink := newTestStore(t, b)
	ctx := context.Background()

	rec := intake.NewRecord()
	rec.Basic.VisitDate = "2025-05-30"
	rec.Basic.MainComplaints = "Yo'tal"
	saved, err := s.SubmitIntake(ctx, "p1", rec)
	if err != nil {
		t.Fatal(err)
	}
	before := len(sink.types())

	if _, err := s.IntakeForEdit(ctx, "p2", saved.ID); !errors.Is(err, patient.ErrItemNotFound) {
		t.Errorf("edit through another patient: %v", err)
	}
	other := rec.Clone()
	other.Basic.MainComplaints = "Bosh og'rig'i"
	if _, err := s.UpdateIntake(ctx, "p2", saved.ID, other); !errors.Is(err, patient.ErrItemNotFound) {
		t.Errorf("update through another patient: %v", err)
	}

	// an uncached record is checked against the patient it was fetched for
	fresh, _ := newTestStore(t, b)
	if _, err := fresh.IntakeForEdit(ctx, "p2", saved.ID); !errors.Is(err, patient.ErrItemNotFound) {
		t.Errorf("uncached edit through another patient: %v", err)
	}

	if got := len(sink.types()); got != before {
		t.Errorf("rejected update emitted %d events", got-before)
	}
	if p2, _ := s.Get("p2"); len(p2.History) != 0 {
		t.Errorf("p2 history = %+v", p2.History)
	}
	form, err := s.IntakeForEdit(ctx, "p1", saved.ID)
	if err != nil || form.Basic.MainComplaints != "Yo'tal" {
		t.Errorf("owner edit = %+v, %v", form.Basic, err)
	}
}

func TestHistoryForm(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend(seeded()...))
	ctx := context.Background()

	old := intake.NewRecord()
	old.Basic.FISH = "Karimov Aziz"
	old.Basic.Nationality = "O'zbek"
	err := s.AddHistory(ctx, "p1", patient.HistoryEntry{
		Date:      patient.NewDate(testNow.AddDate(-1, 0, 0)),
		Type:      intake.HistoryType,
		Diagnosis: "Gipertoniya",
		Notes:     intake.RenderNotes(old),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := intake.NewRecord()
	rec.Basic.VisitDate = "2025-05-30"
	rec.Basic.MainComplaints = "Yo'tal"
	saved, err := s.SubmitIntake(ctx, "p1", rec)
	if err != nil {
		t.Fatal(err)
	}

	p, _ := s.Get("p1")
	var legacyID, structuredID string
	for _, h := range p.History {
		if h.IntakeID == "" {
			legacyID = h.ID
		} else {
			structuredID = h.ID
		}
	}

	form, err := s.HistoryForm(ctx, "p1", legacyID)
	if err != nil {
		t.Fatal(err)
	}
	if form.Basic.FISH != "Karimov Aziz" || form.Basic.Nationality != "O'zbek" || form.PatientID != "p1" {
		t.Errorf("legacy form = %+v", form.Basic)
	}

	form, err = s.HistoryForm(ctx, "p1", structuredID)
	if err != nil {
		t.Fatal(err)
	}
	if form.ID != saved.ID || form.Basic.MainComplaints != "Yo'tal" {
		t.Errorf("structured form = %+v", form)
	}

	if _, err := s.HistoryForm(ctx, "p2", legacyID); !errors.Is(err, patient.ErrItemNotFound) {
		t.Errorf("entry of another patient: %v", err)
	}
}

func TestReloadKeepsCollections(t *testing.T) {
	b := newFakeBackend(seeded()...)
	s, _ := newTestStore(t, b)
	ctx := context.Background()

	if err := s.AddHistory(ctx, "p2", patient.HistoryEntry{Date: patient.NewDate(testNow), Type: "Osmotr", Diagnosis: "Astma"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get("p2")
	if len(p.History) != 1 {
		t.Errorf("history lost on reload: %+v", p.History)
	}
}
