// Package session holds the caller's credentials and short-lived values passed
// between dashboard views.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenKey is the key the bearer token is stored under.
const AccessTokenKey = "accessToken"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTokenExpired     = errors.New("token has expired")
)

type contextKey string

const tokenContextKey contextKey = "access_token"

// WithToken returns a context carrying a request-scoped bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the request-scoped token, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenContextKey).(string)
	return t, ok && t != ""
}

// TokenStore keeps credentials by key. A request-scoped token in the context
// takes precedence over the stored one.
type TokenStore struct {
	mu     sync.RWMutex
	values map[string]string
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenStore returns a store, optionally holding an initial access token.
func NewTokenStore(initial string) *TokenStore {
	s := &TokenStore{
		values: make(map[string]string),
		parser: jwt.NewParser(),
		now:    time.Now,
	}
	if initial = strings.TrimSpace(initial); initial != "" {
		s.values[AccessTokenKey] = initial
	}
	return s
}

// Set stores the access token.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[AccessTokenKey] = token
}

// Clear removes the stored access token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, AccessTokenKey)
}

// Token returns the bearer token for ctx. Missing or expired tokens yield
// ErrNotAuthenticated without any request being made.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		s.mu.RLock()
		token = s.values[AccessTokenKey]
		s.mu.RUnlock()
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}
	if s.expired(token) {
		return "", errors.Join(ErrNotAuthenticated, ErrTokenExpired)
	}
	return token, nil
}

// Invalidate drops token from the store after the server rejected it.
func (s *TokenStore) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[AccessTokenKey] == token {
		delete(s.values, AccessTokenKey)
	}
}

// expired reads the exp claim without verifying the signature; the clinic API
// remains the authority. Opaque tokens are never considered expired.
func (s *TokenStore) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := s.parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(s.now())
}
