// Package observation simulates system load metrics and keeps the activity log
// shown on the monitoring dashboard.
package observation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the metric refresh period.
const DefaultInterval = 3 * time.Second

// Metrics are load percentages in [0, 100].
type Metrics struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Storage float64 `json:"storage"`
	Network float64 `json:"network"`
}

// per-tick drift amplitudes
var amplitude = Metrics{CPU: 10, Memory: 5, Storage: 2, Network: 15}

var initialMetrics = Metrics{CPU: 75, Memory: 50, Storage: 33, Network: 85}

// Option configures a Sampler.
type Option func(*Sampler)

// WithRand sets the random source used for drift.
func WithRand(r *rand.Rand) Option {
	return func(s *Sampler) { s.rng = r }
}

// WithObserver is called with the metrics after every tick.
func WithObserver(fn func(Metrics)) Option {
	return func(s *Sampler) { s.observe = fn }
}

// WithClock sets the time source for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// Sampler refreshes metrics on a ticker until stopped.
type Sampler struct {
	mu          sync.RWMutex
	metrics     Metrics
	logs        []LogEntry
	autoRefresh bool

	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time
	observe  func(Metrics)
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler creates a sampler with the initial metrics and log.
func NewSampler(interval time.Duration, logger *zap.Logger, opts ...Option) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sampler{
		metrics:     initialMetrics,
		logs:        initialLogs(),
		autoRefresh: true,
		interval:    interval,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the ticker loop in the background.
func (s *Sampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop cancels a loop begun with Start and waits for it to exit.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Run ticks until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("metrics sampler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("metrics sampler stopped")
			return
		case <-ticker.C:
			s.mu.RLock()
			enabled := s.autoRefresh
			s.mu.RUnlock()
			if enabled {
				s.Tick()
			}
		}
	}
}

// Tick applies one random drift step.
func (s *Sampler) Tick() Metrics {
	s.mu.Lock()
	m := s.metrics
	m.CPU = s.drift(m.CPU, amplitude.CPU)
	m.Memory = s.drift(m.Memory, amplitude.Memory)
	m.Storage = s.drift(m.Storage, amplitude.Storage)
	m.Network = s.drift(m.Network, amplitude.Network)
	s.metrics = m
	s.mu.Unlock()

	if s.observe != nil {
		s.observe(m)
	}
	return m
}

// drift must be called with s.mu held.
func (s *Sampler) drift(v, amp float64) float64 {
	v += (s.rng.Float64() - 0.5) * amp
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Metrics returns the current values.
func (s *Sampler) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// SetAutoRefresh pauses or resumes ticking without stopping the loop.
func (s *Sampler) SetAutoRefresh(on bool) {
	s.mu.Lock()
	s.autoRefresh = on
	s.mu.Unlock()
}

// AutoRefresh reports whether ticks are applied.
func (s *Sampler) AutoRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoRefresh
}
