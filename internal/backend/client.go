// Package backend is the HTTP client for the clinic REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/avishifo/records/internal/session"
	"github.com/avishifo/records/pkg/circuitbreaker"
)

// Endpoint groups. Each group has its own circuit breaker.
const (
	GroupPatients    = "patients"
	GroupCollections = "collections"
	GroupIntake      = "intake"
	GroupDoctors     = "doctors"
)

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

// Config holds client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Observer receives one call per completed request.
type Observer interface {
	ObserveBackend(group string, status int, elapsed time.Duration)
}

// BreakerObserver is implemented by observers that also track circuit state.
type BreakerObserver interface {
	ObserveBreaker(group string, open bool)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver reports request outcomes to o
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithClock overrides the time source used for age derivation
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client calls the clinic API with the caller's bearer token.
type Client struct {
	base     *url.URL
	http     *http.Client
	tokens   *session.TokenStore
	limiter  *rate.Limiter
	breakers *circuitbreaker.Group
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a clinic API client
func New(cfg Config, tokens *session.TokenStore, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		tracer:  otel.Tracer("clinic-api-client"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	defaults := circuitbreaker.DefaultConfig("")
	defaults.IsFailure = Unavailable
	defaults.FallbackOn = Unavailable
	if bo, ok := c.observer.(BreakerObserver); ok {
		defaults.OnStateChange = func(name string, _, to circuitbreaker.State) {
			bo.ObserveBreaker(name, to == circuitbreaker.StateOpen)
		}
	}
	c.breakers = circuitbreaker.NewGroup(defaults, logger)
	return c, nil
}

// Breakers exposes the per-group circuit breakers for health reporting
func (c *Client) Breakers() *circuitbreaker.Group {
	return c.breakers
}

// request describes one clinic API call.
type request struct {
	group       string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(group, method, path string, payload interface{}) (request, error) {
	r := request{group: group, method: method, path: path}
	if payload == nil {
		return r, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return r, fmt.Errorf("encode request: %w", err)
	}
	r.body = body
	r.contentType = "application/json"
	return r, nil
}

// call resolves the token, then runs the request through the group breaker.
// Auth failures are returned before any request is made.
func (c *Client) call(ctx context.Context, req request) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	cb, err := c.breakers.Get(req.group)
	if err != nil {
		return nil, err
	}
	return circuitbreaker.Run(ctx, cb, func(ctx context.Context) ([]byte, error) {
		return c.roundTrip(ctx, token, req)
	})
}

// callWithFallback is call with the breaker fallback enabled.
func (c *Client) callWithFallback(ctx context.Context, req request, fallback func(error) ([]byte, error)) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	cb, err := c.breakers.Get(req.group)
	if err != nil {
		return nil, err
	}
	return circuitbreaker.RunWithFallback(ctx, cb, func(ctx context.Context) ([]byte, error) {
		return c.roundTrip(ctx, token, req)
	}, fallback)
}

func (c *Client) roundTrip(ctx context.Context, token string, req request) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "clinic_api."+req.group,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("http.route", req.path),
		))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.base.JoinPath(req.path)
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(req.group, 0, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()
	c.observe(req.group, resp.StatusCode, start)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		c.logger.Warn("clinic api rejected token",
			zap.String("method", req.method),
			zap.String("path", req.path))
		return nil, ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &ServerError{Status: resp.StatusCode, Detail: detail(raw)}
		span.SetStatus(codes.Error, se.Error())
		return nil, se
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

func (c *Client) observe(group string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveBackend(group, status, time.Since(start))
	}
}

// detail extracts the "detail" message from an error body.
func detail(raw []byte) string {
	var body struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Detail == nil {
		return ""
	}
	switch d := body.Detail.(type) {
	case string:
		return d
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

// decodeList accepts a bare array, {"results": [...]} or {"data": [...]}.
func decodeList(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	}
	var page struct {
		Results []json.RawMessage `json:"results"`
		Data    []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Data, nil
}

// decodeObject accepts a bare object or one wrapped in {"data": {...}}.
func decodeObject(raw []byte, out interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 && wrapped.Data[0] == '{' {
		raw = wrapped.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

// listOf fetches a patient-scoped collection. A 404 is an empty collection.
func listOf[T any](ctx context.Context, c *Client, path, patientID string) ([]T, error) {
	raw, err := c.call(ctx, request{
		group:  GroupCollections,
		method: http.MethodGet,
		path:   path,
		query:  url.Values{"patient_id": {patientID}},
	})
	if IsNotFound(err) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}
