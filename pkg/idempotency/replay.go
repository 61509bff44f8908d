// Package idempotency protects mutating actions from duplicates. Guard rejects
// concurrent repeats inside one process; ReplayStore keeps request outcomes in
// Postgres so a repeated Idempotency-Key gets the stored response back.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of a stored request
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrInProgress is returned while another request holds the key
	ErrInProgress = errors.New("request with this key is in progress")
	// ErrFailed is returned for keys whose first attempt failed terminally
	ErrFailed = errors.New("request with this key failed permanently")
	// ErrTerminal marks handler errors that must not be retried under the same key
	ErrTerminal = errors.New("terminal failure")
)

// Terminal wraps err so the key is stored as failed instead of released
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// ReplayConfig tunes retention and takeover of abandoned claims
type ReplayConfig struct {
	// Retention is how long a finished outcome can be replayed
	Retention time.Duration
	// ClaimTimeout is how long a pending claim blocks the key before another
	// request may take it over
	ClaimTimeout time.Duration
	// SweepInterval is how often expired rows are removed
	SweepInterval time.Duration
}

// DefaultReplayConfig keeps outcomes for a day
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Retention:     24 * time.Hour,
		ClaimTimeout:  2 * time.Minute,
		SweepInterval: time.Hour,
	}
}

// Func performs the guarded request and returns the response to store
type Func func(ctx context.Context) (json.RawMessage, error)

// Outcome is the response for a key and whether it came from storage
type Outcome struct {
	Response json.RawMessage
	Replayed bool
}

// ReplayStore is the request_replays table
type ReplayStore struct {
	pool   *pgxpool.Pool
	cfg    ReplayConfig
	logger *zap.Logger
	tracer trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplayStore returns a store over pool
func NewReplayStore(pool *pgxpool.Pool, cfg ReplayConfig, logger *zap.Logger) *ReplayStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayStore{
		pool:   pool,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("idempotency"),
	}
}

// RequestKey scopes a client supplied key to the caller and route, so the
// same key sent to two endpoints or by two callers never collides
func RequestKey(clientKey, subject, method, path string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{clientKey, subject, method, path}, "|")))
	return hex.EncodeToString(sum[:])
}

// Do runs fn at most once per key. A completed key returns its stored
// response without calling fn. A retryable failure releases the key.
func (s *ReplayStore) Do(ctx context.Context, key, route string, fn Func) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "replay_store.do",
		trace.WithAttributes(attribute.String("route", route)))
	defer span.End()

	claimed, err := s.claim(ctx, key, route)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("claim request key: %w", err)
	}
	if !claimed {
		state, response, err := s.lookup(ctx, key)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// released between claim and lookup
			return Outcome{}, ErrInProgress
		case err != nil:
			return Outcome{}, fmt.Errorf("read request key: %w", err)
		}
		span.SetAttributes(attribute.String("state", string(state)))
		switch state {
		case StateCompleted:
			return Outcome{Response: response, Replayed: true}, nil
		case StateFailed:
			return Outcome{Response: response, Replayed: true}, ErrFailed
		default:
			return Outcome{}, ErrInProgress
		}
	}

	response, runErr := fn(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		if errors.Is(runErr, ErrTerminal) {
			if err := s.finish(ctx, key, StateFailed, response); err != nil {
				s.logger.Error("failed to store terminal outcome", zap.Error(err))
			}
		} else if err := s.release(ctx, key); err != nil {
			s.logger.Error("failed to release request key", zap.Error(err))
		}
		return Outcome{Response: response}, runErr
	}

	if err := s.finish(ctx, key, StateCompleted, response); err != nil {
		// the request itself succeeded; a repeat will run again
		s.logger.Error("failed to store outcome", zap.Error(err))
	}
	return Outcome{Response: response}, nil
}

// claim inserts a pending row, or takes over one whose claim went stale
func (s *ReplayStore) claim(ctx context.Context, key, route string) (bool, error) {
	const q = `
		INSERT INTO request_replays (replay_key, route, state, expires_at)
		VALUES ($1, $2, 'pending', NOW() + make_interval(secs => $3))
		ON CONFLICT (replay_key) DO UPDATE
		SET claimed_at = NOW(), route = EXCLUDED.route
		WHERE request_replays.state = 'pending'
		  AND request_replays.claimed_at < NOW() - make_interval(secs => $4)
		RETURNING replay_key`

	var got string
	err := s.pool.QueryRow(ctx, q, key, route, s.cfg.Retention.Seconds(), s.cfg.ClaimTimeout.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *ReplayStore) lookup(ctx context.Context, key string) (State, json.RawMessage, error) {
	var (
		state    State
		response json.RawMessage
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, response FROM request_replays WHERE replay_key = $1`, key).Scan(&state, &response)
	return state, response, err
}

func (s *ReplayStore) finish(ctx context.Context, key string, state State, response json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE request_replays
		SET state = $2, response = $3, finished_at = NOW()
		WHERE replay_key = $1`, key, state, response)
	return err
}

func (s *ReplayStore) release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM request_replays WHERE replay_key = $1 AND state = 'pending'`, key)
	return err
}

// StartSweeper removes expired rows every SweepInterval until Stop
func (s *ReplayStore) StartSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("request replay sweep failed", zap.Error(err))
				} else if n > 0 {
					s.logger.Info("expired request replays removed", zap.Int64("rows", n))
				}
			}
		}
	}()
	s.logger.Info("request replay sweeper started", zap.Duration("interval", s.cfg.SweepInterval))
}

// Stop ends the sweeper
func (s *ReplayStore) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep deletes expired rows
func (s *ReplayStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_replays WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
