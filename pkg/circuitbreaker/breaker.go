// Package circuitbreaker guards calls to the clinic API with sony/gobreaker,
// one breaker per endpoint group, reporting through OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of a breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config tunes when a breaker opens and what counts as a failure
type Config struct {
	Name string
	// HalfOpenProbes is how many calls a half-open breaker lets through
	HalfOpenProbes uint32
	// ResetInterval clears the closed state counts periodically
	ResetInterval time.Duration
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
	// ConsecutiveFailures opens the breaker while fewer than
	// RatioMinRequests calls were seen
	ConsecutiveFailures uint32
	// FailureRatio opens the breaker once RatioMinRequests calls were seen
	FailureRatio     float64
	RatioMinRequests uint32
	// IsFailure decides which errors count against the breaker; nil counts
	// every error
	IsFailure func(error) bool
	// FallbackOn decides which errors, besides an open circuit, switch
	// RunWithFallback to its fallback; nil means only an open circuit
	FallbackOn func(error) bool
	// OnStateChange is called after every transition
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns defaults for one clinic API endpoint group
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		HalfOpenProbes:      3,
		ResetInterval:       time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		RatioMinRequests:    10,
	}
}

// IsOpenError reports a call rejected by an open or saturated half-open breaker
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type instruments struct {
	calls    metric.Int64Counter
	rejected metric.Int64Counter
	failures metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	calls, err := m.Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls attempted through a breaker"))
	if err != nil {
		return nil, fmt.Errorf("calls counter: %w", err)
	}
	rejected, err := m.Int64Counter("circuit_breaker_rejections_total",
		metric.WithDescription("Calls rejected by an open breaker"))
	if err != nil {
		return nil, fmt.Errorf("rejections counter: %w", err)
	}
	failures, err := m.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Calls that counted against a breaker"))
	if err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}
	return &instruments{calls: calls, rejected: rejected, failures: failures}, nil
}

// Breaker guards one endpoint group
type Breaker struct {
	cb         *gobreaker.CircuitBreaker
	name       string
	isFailure  func(error) bool
	fallbackOn func(error) bool
	inst       *instruments
	attrs      metric.MeasurementOption
	tracer     trace.Tracer
	logger     *zap.Logger
}

func newBreaker(cfg Config, inst *instruments, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(error) bool { return true }
	}

	b := &Breaker{
		name:       cfg.Name,
		isFailure:  isFailure,
		fallbackOn: cfg.FallbackOn,
		inst:       inst,
		attrs:      metric.WithAttributes(attribute.String("breaker", cfg.Name)),
		tracer:     otel.Tracer("circuit-breaker"),
		logger:     logger,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.RatioMinRequests {
				return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool { return err == nil || !isFailure(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(stateOf(from))),
				zap.String("to", string(stateOf(to))))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, stateOf(from), stateOf(to))
			}
		},
	})
	return b
}

// State is the breaker's current state
func (b *Breaker) State() State { return stateOf(b.cb.State()) }

// Run calls fn unless the breaker is open
func Run[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := b.tracer.Start(ctx, "breaker "+b.name,
		trace.WithAttributes(attribute.String("breaker.state", string(b.State()))))
	defer span.End()

	b.inst.calls.Add(ctx, 1, b.attrs)
	var out T
	_, err := b.cb.Execute(func() (interface{}, error) {
		var err error
		out, err = fn(ctx)
		return nil, err
	})
	switch {
	case err == nil:
		return out, nil
	case IsOpenError(err):
		b.inst.rejected.Add(ctx, 1, b.attrs)
		span.SetAttributes(attribute.Bool("breaker.rejected", true))
	case b.isFailure(err):
		b.inst.failures.Add(ctx, 1, b.attrs)
	}
	span.RecordError(err)
	var zero T
	return zero, err
}

// RunWithFallback is Run, switching to fallback when the breaker is open or
// the error matches FallbackOn
func RunWithFallback[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error), fallback func(cause error) (T, error)) (T, error) {
	out, err := Run(ctx, b, fn)
	if err == nil {
		return out, nil
	}
	if IsOpenError(err) || (b.fallbackOn != nil && b.fallbackOn(err)) {
		b.logger.Warn("clinic api call failed, using fallback",
			zap.String("breaker", b.name),
			zap.Error(err))
		return fallback(err)
	}
	return out, err
}

// Group holds one breaker per endpoint group, created on first use from
// shared defaults
type Group struct {
	defaults Config
	logger   *zap.Logger
	inst     *instruments
	instErr  error

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty group
func NewGroup(defaults Config, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Group{defaults: defaults, logger: logger, breakers: make(map[string]*Breaker)}

	meter := otel.Meter("circuit-breaker")
	g.inst, g.instErr = newInstruments(meter)
	if _, err := meter.Int64ObservableGauge("circuit_breaker_state",
		metric.WithDescription("Breaker state: 0 closed, 1 half-open, 2 open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, s := range g.Snapshot() {
				o.Observe(gaugeValue(s.State), metric.WithAttributes(attribute.String("breaker", s.Name)))
			}
			return nil
		})); err != nil {
		logger.Warn("breaker state gauge unavailable", zap.Error(err))
	}
	return g
}

func gaugeValue(s State) int64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// Get returns the breaker for name, creating it on first use
func (g *Group) Get(name string) (*Breaker, error) {
	if g.instErr != nil {
		return nil, g.instErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[name]; ok {
		return b, nil
	}
	cfg := g.defaults
	cfg.Name = name
	b := newBreaker(cfg, g.inst, g.logger)
	g.breakers[name] = b
	return b, nil
}

// Status is a breaker's state for health reporting
type Status struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
}

// Snapshot lists every breaker created so far, ordered by name
func (g *Group) Snapshot() []Status {
	g.mu.Lock()
	out := make([]Status, 0, len(g.breakers))
	for name, b := range g.breakers {
		c := b.cb.Counts()
		out = append(out, Status{Name: name, State: b.State(), Requests: c.Requests, Failures: c.TotalFailures})
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
