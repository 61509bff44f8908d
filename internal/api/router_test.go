package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avishifo/records/internal/domain/chathub"
	"github.com/avishifo/records/internal/domain/crm"
	"github.com/avishifo/records/internal/domain/observation"
	"github.com/avishifo/records/internal/domain/requests"
	"github.com/avishifo/records/internal/observability/metrics"
	"github.com/avishifo/records/pkg/circuitbreaker"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	reg := prometheus.NewRegistry()
	return Deps{
		Directory: crm.NewDirectory(nil, nil),
		Board:     requests.NewBoard(),
		Chats:     chathub.NewHub(nil),
		Sampler:   observation.NewSampler(observation.DefaultInterval, nil),
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Breakers:  circuitbreaker.NewGroup(circuitbreaker.DefaultConfig("clinic-api"), nil),
	}
}

func TestHealth(t *testing.T) {
	h := NewRouter(testDeps(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["service"] != "records-api" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestReadyFailsWhenDependencyDown(t *testing.T) {
	d := testDeps(t)
	d.Ready = func(context.Context) error { return errors.New("database unreachable") }
	h := NewRouter(d)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body readiness
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "not ready" || body.Error != "database unreachable" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyWithoutCheck(t *testing.T) {
	h := NewRouter(testDeps(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAPIMountsLocalBoards(t *testing.T) {
	h := NewRouter(testDeps(t))

	for _, path := range []string{"/api/v1/requests/stats", "/api/v1/chats", "/api/v1/crm/stats", "/api/v1/observation/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer test-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	h := NewRouter(testDeps(t))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "records_http_requests_total") {
		t.Error("request counter not exported")
	}
}
