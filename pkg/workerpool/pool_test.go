package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoReturnsOwnOutcome(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 64}, func(ctx context.Context, n int) error {
		time.Sleep(time.Millisecond)
		if n%2 == 1 {
			return Permanent(fmt.Errorf("odd %d", n))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := pool.Do(context.Background(), fmt.Sprint(i), i)
			if odd := i%2 == 1; odd != (err != nil) {
				t.Errorf("job %d: err = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if s := pool.Stats(); s.Completed != 16 || s.Failed != 16 || s.Retried != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	pool, _ := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond},
		func(ctx context.Context, _ string) error {
			calls.Add(1)
			return errors.New("db unavailable")
		}, nil)
	pool.Start()
	defer pool.Stop()

	if err := pool.Do(context.Background(), "t", "payload"); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if s := pool.Stats(); s.Retried != 2 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPermanentSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	pool, _ := New(Config{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond},
		func(ctx context.Context, _ int) error {
			calls.Add(1)
			return Permanent(errors.New("bad payload"))
		}, nil)
	pool.Start()
	defer pool.Stop()

	if err := pool.Do(context.Background(), "t", 1); !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestDoAfterStop(t *testing.T) {
	pool, _ := New(Config{Workers: 1, QueueSize: 1}, func(context.Context, int) error { return nil }, nil)
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := pool.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := pool.Do(context.Background(), "late", 1); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected shutdown error, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool, _ := New(Config{Workers: 1, QueueSize: 1}, func(context.Context, int) error {
		<-block
		return nil
	}, nil)
	pool.Start()
	defer pool.Stop()
	defer close(block)

	waitFor := func(cond func(Stats) bool) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for !cond(pool.Stats()) {
			if time.Now().After(deadline) {
				t.Fatalf("stats = %+v", pool.Stats())
			}
			time.Sleep(time.Millisecond)
		}
	}

	// one job occupies the worker, one fills the queue
	go pool.Do(context.Background(), "running", 1)
	waitFor(func(s Stats) bool { return s.Busy == 1 })
	go pool.Do(context.Background(), "queued", 2)
	waitFor(func(s Stats) bool { return s.Queued == 1 })

	if err := pool.Do(context.Background(), "extra", 3); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v", err)
	}
	if !pool.Saturated() {
		t.Error("full queue not reported as saturated")
	}
}

func TestDoHonoursCallerContext(t *testing.T) {
	block := make(chan struct{})
	pool, _ := New(Config{Workers: 1}, func(context.Context, int) error {
		<-block
		return nil
	}, nil)
	pool.Start()
	defer pool.Stop()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Do(ctx, "slow", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}
