// Package postgres holds the Postgres side of the event pipeline: the
// transactional outbox written by the records service, the relay that drains
// it, and the activity log filled by the consumer.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
)

// relayLockID is the advisory lock held by the relay draining a batch
const relayLockID = int64(0x7265636f72647301)

// OutboxEntry represents an event waiting to be published
type OutboxEntry struct {
	ID            int64
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// EntryFromEvent builds the outbox row for e. The payload is the whole event
// envelope so consumers see the id, actor and correlation id.
func EntryFromEvent(e *events.Event) (*OutboxEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return &OutboxEntry{
		EventID:       e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.EventType),
		Payload:       payload,
		Topic:         events.Topic(e.AggregateType),
		Key:           e.AggregateID,
	}, nil
}

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WriteEntry inserts an outbox entry. Pass a pgx.Tx to commit it together
// with other writes.
func WriteEntry(ctx context.Context, q Querier, entry *OutboxEntry) error {
	query := `
		INSERT INTO outbox (event_id, aggregate_id, aggregate_type, event_type, payload, topic, message_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		entry.EventID,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.Topic,
		entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}
	return nil
}

// EventSink records store and CRM events in the outbox
type EventSink struct {
	db     Querier
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEventSink creates a sink writing through db
func NewEventSink(db Querier, logger *zap.Logger) *EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSink{db: db, logger: logger, tracer: otel.Tracer("outbox-sink")}
}

// Record implements events.Sink
func (s *EventSink) Record(ctx context.Context, e *events.Event) error {
	ctx, span := s.tracer.Start(ctx, "outbox_record",
		trace.WithAttributes(
			attribute.String("event_type", string(e.EventType)),
			attribute.String("aggregate_id", e.AggregateID),
		))
	defer span.End()

	entry, err := EntryFromEvent(e)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := WriteEntry(ctx, s.db, entry); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Debug("event written to outbox",
		zap.Int64("id", entry.ID),
		zap.String("event_type", entry.EventType),
		zap.String("topic", entry.Topic))
	return nil
}

// OutboxConfig holds configuration for the outbox relay
type OutboxConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the number of failed publishes before an entry is dead-lettered
	MaxRetries int
}

// DefaultOutboxConfig returns the relay defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:    100,
		PollInterval: time.Second,
		MaxRetries:   5,
	}
}

// Publisher sends one message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayObserver receives relay metrics
type RelayObserver interface {
	ObserveProduced(topic string)
	ObserveOutbox(pending int64)
}

// Relay drains the outbox to the broker
type Relay struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher Publisher
	obs       RelayObserver
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates an outbox relay; obs may be nil
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg OutboxConfig, obs RelayObserver, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultOutboxConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultOutboxConfig().PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultOutboxConfig().MaxRetries
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		obs:       obs,
		logger:    logger,
		tracer:    otel.Tracer("outbox-relay"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling the outbox
func (r *Relay) Start() {
	go r.processLoop()
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop waits for the current batch and stops polling
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) processLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(r.ctx); err != nil {
				r.logger.Error("outbox batch failed", zap.Error(err))
			}
			if n, err := r.MoveToDeadLetter(r.ctx); err != nil {
				r.logger.Error("dead letter pass failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Warn("outbox entries dead-lettered", zap.Int64("count", n))
			}
			r.reportPending(r.ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending entries and returns how many
// were published. It does nothing while another relay holds the lock.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox_process_batch")
	defer span.End()

	// the advisory lock is per session, so lock and unlock on one connection
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", relayLockID); err != nil {
			r.logger.Warn("advisory unlock failed", zap.Error(err))
		}
	}()

	entries, err := r.fetchUnprocessed(ctx, conn)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	published := 0
	for _, entry := range entries {
		if err := r.processEntry(ctx, conn, entry); err != nil {
			r.logger.Error("failed to publish outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

func (r *Relay) fetchUnprocessed(ctx context.Context, q Querier) ([]*OutboxEntry, error) {
	query := `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic, &entry.Key,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Relay) processEntry(ctx context.Context, q Querier, entry *OutboxEntry) error {
	ctx, span := r.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		updateQuery := `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		if _, updateErr := q.Exec(ctx, updateQuery, err.Error(), entry.ID); updateErr != nil {
			r.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	if _, err := q.Exec(ctx, `UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	if r.obs != nil {
		r.obs.ObserveProduced(entry.Topic)
	}
	r.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

// deadLetter is the message sent for an entry that ran out of retries
type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead letter topic and marks them processed
func (r *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, topic, message_key,
		       created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.EventType, &entry.Payload,
			&entry.Topic, &entry.Key, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range entries {
		payload, err := json.Marshal(deadLetter{
			OriginalTopic: entry.Topic,
			EventType:     entry.EventType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
			RetryCount:    entry.RetryCount,
			LastError:     entry.LastError,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			continue
		}
		if err := r.publisher.Publish(ctx, events.TopicDeadLetter, entry.Key, payload); err != nil {
			r.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}
		if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
			r.logger.Error("failed to mark dead-lettered entry", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// CleanupProcessed removes processed entries older than olderThan
func (r *Relay) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`

	result, err := r.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

// OutboxStats summarizes the outbox
type OutboxStats struct {
	Pending       int64      `json:"pending"`
	Processed     int64      `json:"processed_24h"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// Stats returns current outbox statistics
func (r *Relay) Stats(ctx context.Context) (*OutboxStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox
	`

	stats := &OutboxStats{}
	if err := r.pool.QueryRow(ctx, query, r.config.MaxRetries).Scan(
		&stats.Pending, &stats.Processed, &stats.Failed, &stats.OldestPending,
	); err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}

func (r *Relay) reportPending(ctx context.Context) {
	if r.obs == nil {
		return
	}
	stats, err := r.Stats(ctx)
	if err != nil {
		r.logger.Warn("outbox stats unavailable", zap.Error(err))
		return
	}
	r.obs.ObserveOutbox(stats.Pending)
}
