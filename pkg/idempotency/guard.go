package idempotency

import (
	"errors"
	"sync"
)

// ErrActionInFlight is returned when the same action is already running.
var ErrActionInFlight = errors.New("action already in progress")

// Guard rejects a second start of an action until the first one releases it.
type Guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{running: make(map[string]struct{})}
}

// Acquire marks key as running. The returned release must be called when the
// action finishes; calling it more than once is harmless.
func (g *Guard) Acquire(key string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[key]; busy {
		return nil, ErrActionInFlight
	}
	g.running[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, key)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight reports whether key is currently held.
func (g *Guard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.running[key]
	return busy
}
