package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHandoffTTL bounds how long a handed-off value waits to be taken.
const DefaultHandoffTTL = 5 * time.Minute

// ErrHandoffNotFound is returned for unknown, taken or expired tokens.
var ErrHandoffNotFound = errors.New("handoff not found or expired")

// SelectedDoctor is passed from the doctor list to the booking view.
type SelectedDoctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type handoffEntry[T any] struct {
	value   T
	expires time.Time
}

// Handoff passes typed values between views. Each value can be taken once.
type Handoff[T any] struct {
	mu    sync.Mutex
	items map[string]handoffEntry[T]
	ttl   time.Duration
	now   func() time.Time
}

// NewHandoff creates a handoff with the given ttl.
func NewHandoff[T any](ttl time.Duration) *Handoff[T] {
	if ttl <= 0 {
		ttl = DefaultHandoffTTL
	}
	return &Handoff[T]{items: make(map[string]handoffEntry[T]), ttl: ttl, now: time.Now}
}

// Put stores v and returns the token that redeems it.
func (h *Handoff[T]) Put(v T) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for k, e := range h.items {
		if !now.Before(e.expires) {
			delete(h.items, k)
		}
	}
	token := uuid.NewString()
	h.items[token] = handoffEntry[T]{value: v, expires: now.Add(h.ttl)}
	return token
}

// Take returns and removes the value for token.
func (h *Handoff[T]) Take(token string) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	e, ok := h.items[token]
	if !ok {
		return zero, ErrHandoffNotFound
	}
	delete(h.items, token)
	if !h.now().Before(e.expires) {
		return zero, ErrHandoffNotFound
	}
	return e.value, nil
}

// Len returns the number of pending values.
func (h *Handoff[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
