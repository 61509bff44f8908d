package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/internal/session"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *session.TokenStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := session.NewTokenStore("test-token")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, tokens, nil,
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	return c, tokens
}

func TestListPatientsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":1,"full_name":"Karimov A."},{"id":"p2","full_name":"B"}]`, 2},
		{"results", `{"results":[{"id":7,"full_name":"C"}]}`, 1},
		{"data", `{"data":[{"id":8},null,{"full_name":"no id"}]}`, 1},
		{"empty object", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/patients/patientlar/" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
					t.Errorf("authorization = %q", got)
				}
				io.WriteString(w, tt.body)
			}))
			got, err := c.ListPatients(context.Background(), nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d patients, want %d", len(got), tt.want)
			}
		})
	}
}

func TestListPatientsMapsDefaults(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":42,"full_name":"Karimov Aziz","birth_date":"1985-03-10",
			"passport_series":"AA","passport_number":"1234567","created_at":"2025-05-01T09:00:00Z"}]`)
	}))
	got, err := c.ListPatients(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p := got[0]
	if p.ID != "42" || p.Age.Years != 40 || !p.Age.Known {
		t.Errorf("id/age = %s/%v", p.ID, p.Age)
	}
	if p.Insurance != "ОМС №AA1234567" {
		t.Errorf("insurance = %s", p.Insurance)
	}
	if p.Status != patient.StatusObservation || p.LastDiagnosis != patient.DefaultDiagnosis {
		t.Errorf("defaults = %s / %s", p.Status, p.LastDiagnosis)
	}
	if p.Phone != patient.UnknownLabel {
		t.Errorf("phone = %s", p.Phone)
	}
}

func TestListPatientsFallback(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"db down"}`, http.StatusServiceUnavailable)
	}))

	var cause error
	got, err := c.ListPatients(context.Background(), func(err error) ([]patient.Patient, error) {
		cause = err
		return []patient.Patient{{ID: "p1"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("fallback not used: %+v", got)
	}
	var se *ServerError
	if !errors.As(cause, &se) || se.Status != http.StatusServiceUnavailable || se.Detail != "db down" {
		t.Errorf("cause = %v", cause)
	}
}

func TestNoFallbackOnClientErrors(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"detail":"forbidden"}`)
	}))
	_, err := c.ListPatients(context.Background(), func(error) ([]patient.Patient, error) {
		t.Error("fallback must not run for 403")
		return nil, nil
	})
	var se *ServerError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		t.Errorf("err = %v", err)
	}
}

func TestMissingTokenMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	c, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	tokens.Clear()

	_, err := c.ListPatients(context.Background(), func(error) ([]patient.Patient, error) {
		t.Error("fallback must not run without a token")
		return nil, nil
	})
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("err = %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server was called %d times", hits.Load())
	}
}

func TestUnauthorizedClearsToken(t *testing.T) {
	c, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Medications(context.Background(), "p1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if _, err := tokens.Token(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("token still stored: %v", err)
	}
}

func TestCollectionNotFoundIsEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("patient_id") != "p9" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		http.NotFound(w, r)
	}))

	meds, err := c.Medications(context.Background(), "p9")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if meds == nil || len(meds) != 0 {
		t.Errorf("expected empty list, got %v", meds)
	}
}

func TestCollectionsAcceptNumericIDs(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/medications/":
			w.Write([]byte(`[{"id":12,"name":"Aspirin","dosage":"100mg","frequency":"1x"}]`))
		case "/api/vitals/":
			w.Write([]byte(`{"results":[{"id":7,"date":"2025-03-01","bp":"120/80","pulse":70}]}`))
		case "/api/history/":
			w.Write([]byte(`[{"id":3,"date":"2025-03-01","type":"Konsultatsiya","diagnosis":"ORVI","intakeId":41}]`))
		case "/api/documents/":
			w.Write([]byte(`{"data":[{"id":"d-9","name":"scan.pdf","type":"pdf","date":"2025-03-01"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	ctx := context.Background()

	meds, err := c.Medications(ctx, "p1")
	if err != nil || len(meds) != 1 || meds[0].ID != "12" || meds[0].Name != "Aspirin" {
		t.Errorf("medications = %+v, %v", meds, err)
	}
	vitals, err := c.Vitals(ctx, "p1")
	if err != nil || len(vitals) != 1 || vitals[0].ID != "7" || vitals[0].Pulse != 70 {
		t.Errorf("vitals = %+v, %v", vitals, err)
	}
	history, err := c.History(ctx, "p1")
	if err != nil || len(history) != 1 || history[0].ID != "3" || history[0].IntakeID != "41" || history[0].Diagnosis != "ORVI" {
		t.Errorf("history = %+v, %v", history, err)
	}
	docs, err := c.Documents(ctx, "p1")
	if err != nil || len(docs) != 1 || docs[0].ID != "d-9" {
		t.Errorf("documents = %+v, %v", docs, err)
	}
}

func TestAddMedicationBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/medications/" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["patient"] != "p1" || body["name"] != "Metformin" || body["dosage"] != "500mg" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.AddMedication(context.Background(), "p1", patient.Medication{Name: "Metformin", Dosage: "500mg", Frequency: "2x"})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSubmitIntakeMultipart(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		if r.FormValue("patient") != "p1" || r.FormValue("shikoyatlar") != "Yo'tal" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		if n := len(r.MultipartForm.File["nafas_tizimi_hujjat"]); n != 1 {
			t.Errorf("respiratory files = %d", n)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":91,"patient":1,"kelgan_vaqti":"2025-06-01","shikoyatlar":"Yo'tal"}`)
	}))

	rec := intake.NewRecord()
	rec.Basic.VisitDate = "2025-06-01"
	rec.Basic.MainComplaints = "Yo'tal"
	if err := rec.Attach(intake.Respiratory, intake.Attachment{Name: "xray.png", Size: 3, Data: []byte("png")}); err != nil {
		t.Fatal(err)
	}

	saved, err := c.SubmitIntake(context.Background(), "p1", rec)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "91" {
		t.Errorf("saved id = %s", saved.ID)
	}
}

func TestServerErrorDetail(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"kelgan_vaqti is required"}`)
	}))

	_, err := c.SubmitIntake(context.Background(), "p1", intake.NewRecord())
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if se.Detail != "kelgan_vaqti is required" {
		t.Errorf("detail = %q", se.Detail)
	}
	if Unavailable(err) {
		t.Error("400 must not count as unavailable")
	}
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrUnauthorized, false},
		{session.ErrNotAuthenticated, false},
		{context.Canceled, false},
		{&ServerError{Status: 502}, true},
		{&ServerError{Status: 404}, false},
		{errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		if got := Unavailable(tt.err); got != tt.want {
			t.Errorf("Unavailable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
