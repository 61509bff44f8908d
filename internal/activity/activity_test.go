package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/observation"
	"github.com/avishifo/records/internal/infrastructure/postgres"
	"github.com/avishifo/records/internal/infrastructure/redpanda"
	"github.com/avishifo/records/pkg/workerpool"
)

type memoryLog struct {
	mu      sync.Mutex
	entries map[string]postgres.ActivityEntry
	fail    error
}

func (m *memoryLog) Append(_ context.Context, e postgres.ActivityEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	if _, ok := m.entries[e.EventID]; ok {
		return false, nil
	}
	m.entries[e.EventID] = e
	return true, nil
}

func newPool(t *testing.T, log Appender) *workerpool.Pool[*events.Event] {
	t.Helper()
	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	p, err := workerpool.New(cfg, Apply(log, nil), nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func message(t *testing.T, e *events.Event) *redpanda.ConsumedMessage {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return &redpanda.ConsumedMessage{Topic: events.Topic(e.AggregateType), Key: []byte(e.AggregateID), Value: raw}
}

func TestHandlerAppendsOncePerEvent(t *testing.T) {
	log := &memoryLog{entries: map[string]postgres.ActivityEntry{}}
	h := Handler(newPool(t, log), nil)

	e, err := events.New(events.AggregatePatient, "p1", events.PatientDeleted, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := message(t, e)
	for i := 0; i < 2; i++ {
		if err := h(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if len(log.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(log.entries))
	}
	got := log.entries[e.ID]
	if got.Type != observation.LogWarning || got.Actor != "system" || got.AggregateID != "p1" {
		t.Errorf("entry = %+v", got)
	}
}

func TestHandlerDropsMalformed(t *testing.T) {
	log := &memoryLog{entries: map[string]postgres.ActivityEntry{}}
	h := Handler(newPool(t, log), nil)

	for _, body := range []string{"not json", `{"id":"","event_type":"PatientCreated"}`} {
		if err := h(context.Background(), &redpanda.ConsumedMessage{Value: []byte(body)}); err != nil {
			t.Errorf("%q: %v", body, err)
		}
	}
	if len(log.entries) != 0 {
		t.Errorf("malformed messages were stored")
	}
}

func TestHandlerReportsStoreFailure(t *testing.T) {
	log := &memoryLog{entries: map[string]postgres.ActivityEntry{}, fail: errors.New("db down")}
	h := Handler(newPool(t, log), nil)

	e, _ := events.New(events.AggregateUser, "u7", events.UserAdded, nil)
	if err := h(context.Background(), message(t, e)); err == nil {
		t.Fatal("expected an error")
	}
}

func TestDecode(t *testing.T) {
	if _, err := Decode([]byte(`{}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("err = %v", err)
	}
	e, err := Decode([]byte(`{"id":"e1","aggregate_id":"p1","aggregate_type":"patient","event_type":"PatientCreated","timestamp":"2025-05-20T10:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "e1" || e.EventType != events.PatientCreated {
		t.Errorf("decoded %+v", e)
	}
}
