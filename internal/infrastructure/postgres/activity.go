package postgres

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/observation"
)

// ActivityEntry is one row of the activity log
type ActivityEntry struct {
	EventID       string
	Type          observation.LogType
	Message       string
	Actor         string
	AggregateID   string
	CorrelationID string
	OccurredAt    time.Time
}

// ActivityFromEvent describes e as an activity log row
func ActivityFromEvent(e *events.Event) ActivityEntry {
	kind, msg := observation.Describe(e.EventType)
	actor := e.Actor
	if actor == "" {
		actor = "system"
	}
	return ActivityEntry{
		EventID:       e.ID,
		Type:          kind,
		Message:       msg,
		Actor:         actor,
		AggregateID:   e.AggregateID,
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.Timestamp,
	}
}

// ActivityLog stores consumed events for the observation log
type ActivityLog struct {
	db     Querier
	tracer trace.Tracer
}

// NewActivityLog creates the repository
func NewActivityLog(db Querier) *ActivityLog {
	return &ActivityLog{db: db, tracer: otel.Tracer("activity-log")}
}

// Append stores entry once per event id. It reports false for a redelivered event.
func (a *ActivityLog) Append(ctx context.Context, entry ActivityEntry) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "activity_append",
		trace.WithAttributes(attribute.String("event_id", entry.EventID)))
	defer span.End()

	query := `
		INSERT INTO activity_log (event_id, log_type, message, actor, aggregate_id, correlation_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := a.db.Exec(ctx, query,
		entry.EventID, string(entry.Type), entry.Message, entry.Actor,
		entry.AggregateID, entry.CorrelationID, entry.OccurredAt,
	)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("append activity %s: %w", entry.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Recent implements observation.ActivitySource, newest first
func (a *ActivityLog) Recent(ctx context.Context, limit int) ([]observation.LogEntry, error) {
	ctx, span := a.tracer.Start(ctx, "activity_recent")
	defer span.End()

	rows, err := a.db.Query(ctx, `
		SELECT id, log_type, message, actor, occurred_at
		FROM activity_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	out := []observation.LogEntry{}
	for rows.Next() {
		var (
			e    observation.LogEntry
			kind string
			at   time.Time
		)
		if err := rows.Scan(&e.ID, &kind, &e.Message, &e.User, &at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Type = observation.LogType(kind)
		e.Timestamp = observation.FormatTimestamp(at.Local())
		out = append(out, e)
	}
	return out, rows.Err()
}
