// Package activity turns consumed record events into activity log rows.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/infrastructure/postgres"
	"github.com/avishifo/records/internal/infrastructure/redpanda"
	"github.com/avishifo/records/pkg/workerpool"
)

// ErrMalformedEvent marks messages that can never be applied
var ErrMalformedEvent = errors.New("malformed event")

// Appender stores activity rows; *postgres.ActivityLog implements it
type Appender interface {
	Append(ctx context.Context, entry postgres.ActivityEntry) (bool, error)
}

// Decode parses an event envelope as written by the outbox
func Decode(value []byte) (*events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.ID == "" || e.EventType == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return &e, nil
}

// Apply returns the pool function that appends one event. Redelivered
// events are skipped by the log itself.
func Apply(log Appender, logger *zap.Logger) workerpool.Func[*events.Event] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, e *events.Event) error {
		inserted, err := log.Append(ctx, postgres.ActivityFromEvent(e))
		if err != nil {
			return fmt.Errorf("append activity for %s: %w", e.ID, err)
		}
		if !inserted {
			logger.Debug("duplicate event skipped", zap.String("event_id", e.ID))
		}
		return nil
	}
}

// Runner is the part of the worker pool the handler needs
type Runner interface {
	Do(ctx context.Context, key string, e *events.Event) error
}

// Handler decodes each message and waits for the pool to apply it.
// Malformed messages are logged and acknowledged.
func Handler(pool Runner, logger *zap.Logger) redpanda.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		e, err := Decode(msg.Value)
		if err != nil {
			logger.Warn("dropping message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		return pool.Do(ctx, e.ID, e)
	}
}
