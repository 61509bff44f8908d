// Package events defines the domain events emitted by record and CRM mutations.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	PatientCreated    EventType = "PatientCreated"
	PatientArchived   EventType = "PatientArchived"
	PatientUnarchived EventType = "PatientUnarchived"
	PatientDeleted    EventType = "PatientDeleted"
	MedicationAdded   EventType = "MedicationAdded"
	MedicationDeleted EventType = "MedicationDeleted"
	VitalsAdded       EventType = "VitalsAdded"
	VitalsDeleted     EventType = "VitalsDeleted"
	HistoryAdded      EventType = "HistoryAdded"
	HistoryDeleted    EventType = "HistoryDeleted"
	DocumentAdded     EventType = "DocumentAdded"
	DocumentDeleted   EventType = "DocumentDeleted"
	IntakeSubmitted   EventType = "IntakeSubmitted"
	IntakeUpdated     EventType = "IntakeUpdated"

	UserAdded     EventType = "UserAdded"
	UserEdited    EventType = "UserEdited"
	UserDeleted   EventType = "UserDeleted"
	UserBlocked   EventType = "UserBlocked"
	UserUnblocked EventType = "UserUnblocked"
)

// Aggregate types
const (
	AggregatePatient = "Patient"
	AggregateUser    = "User"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// New creates a new event
func New(aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithCorrelation sets the request correlation id
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets who triggered the change
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

type (
	correlationKey struct{}
	actorKey       struct{}
)

// ContextWithCorrelation attaches a correlation id for events built with FromContext.
func ContextWithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFromContext returns the correlation id set by ContextWithCorrelation.
func CorrelationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ContextWithActor attaches the caller recorded on events built with FromContext.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by ContextWithActor.
func ActorFromContext(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}

// FromContext creates an event carrying the correlation id and actor from ctx
func FromContext(ctx context.Context, aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	e, err := New(aggregateType, aggregateID, eventType, data)
	if err != nil {
		return nil, err
	}
	return e.WithCorrelation(CorrelationFromContext(ctx)).WithActor(ActorFromContext(ctx)), nil
}

// Sink receives events after a mutation has been applied.
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// NopSink drops every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, *Event) error { return nil }

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event *Event) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, event *Event) error { return f(ctx, event) }

// Topics carrying domain events, keyed by aggregate id.
const (
	TopicPatientEvents = "patient.events"
	TopicCRMEvents     = "crm.events"
	TopicDeadLetter    = "records.dead-letter"
)

// Topic returns the topic an aggregate type publishes to
func Topic(aggregateType string) string {
	if aggregateType == AggregateUser {
		return TopicCRMEvents
	}
	return TopicPatientEvents
}
