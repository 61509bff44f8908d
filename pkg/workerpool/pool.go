// Package workerpool runs jobs on a fixed set of goroutines with a bounded
// queue and retries. Callers enqueue a job and wait for its outcome.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrShuttingDown is returned by Do after Stop
	ErrShuttingDown = errors.New("pool is shutting down")
	// ErrQueueFull is returned by Do when the queue has no room
	ErrQueueFull = errors.New("job queue is full")
	// ErrPermanent marks job errors that retrying cannot fix
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so the pool gives up without retrying
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Func processes one job
type Func[T any] func(ctx context.Context, job T) error

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize bounds the jobs waiting for a worker
	QueueSize int
	// MaxRetries is how many times a failed job is tried again
	MaxRetries int
	// RetryDelay grows linearly with each attempt
	RetryDelay time.Duration
	// DrainTimeout bounds how long Stop waits for queued jobs
	DrainTimeout time.Duration
}

// DefaultConfig returns defaults sized for the activity consumer
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		QueueSize:    1000,
		MaxRetries:   3,
		RetryDelay:   100 * time.Millisecond,
		DrainTimeout: 30 * time.Second,
	}
}

type job[T any] struct {
	key   string
	ctx   context.Context
	value T
	reply chan error
}

// Pool runs Func over queued jobs
type Pool[T any] struct {
	cfg    Config
	fn     Func[T]
	logger *zap.Logger

	queue chan job[T]
	wg    sync.WaitGroup

	// cancelled when draining times out
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	busy      atomic.Int64
}

// New creates a pool; Start launches the workers
func New[T any](cfg Config, fn Func[T], logger *zap.Logger) (*Pool[T], error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		cfg:    cfg,
		fn:     fn,
		logger: logger,
		queue:  make(chan job[T], cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Do enqueues value and waits for its outcome. key only labels logs.
func (p *Pool[T]) Do(ctx context.Context, key string, value T) error {
	j := job[T]{key: key, ctx: ctx, value: value, reply: make(chan error, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrShuttingDown
	}
	select {
	case p.queue <- j:
		p.submitted.Add(1)
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		return ErrQueueFull
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-j.reply:
		return err
	}
}

// Stop refuses new jobs and drains the queue until DrainTimeout, after which
// running jobs see a cancelled context. Calling Stop again is a no-op.
func (p *Pool[T]) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
	case <-time.After(p.cfg.DrainTimeout):
		p.logger.Warn("worker pool drain timed out", zap.Int("queued", len(p.queue)))
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

func (p *Pool[T]) work(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.busy.Add(1)
		err := p.run(j)
		p.busy.Add(-1)

		if err != nil {
			p.failed.Add(1)
			p.logger.Error("job failed",
				zap.String("key", j.key),
				zap.Int("worker_id", id),
				zap.Error(err))
		} else {
			p.completed.Add(1)
		}
		j.reply <- err
	}
}

// run tries the job until it succeeds, fails permanently or runs out of retries
func (p *Pool[T]) run(j job[T]) error {
	ctx := j.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	// a timed out drain stops retries even for callers without a deadline
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(p.ctx, stop)()

	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = p.fn(ctx, j.value); err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempt == p.cfg.MaxRetries {
			break
		}

		p.retried.Add(1)
		p.logger.Debug("retrying job",
			zap.String("key", j.key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}
	if errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("job failed after %d retries: %w", p.cfg.MaxRetries, err)
}

// Stats is a point in time view of the pool
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Busy      int64 `json:"busy"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Workers   int   `json:"workers"`
}

// Stats returns current counters
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
		Busy:      p.busy.Load(),
		Queued:    len(p.queue),
		Capacity:  p.cfg.QueueSize,
		Workers:   p.cfg.Workers,
	}
}

// Saturated reports whether the queue is at least 90% full
func (p *Pool[T]) Saturated() bool {
	return float64(len(p.queue)) >= 0.9*float64(p.cfg.QueueSize)
}
