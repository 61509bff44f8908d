// Package metrics provides Prometheus metrics for the records service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avishifo/records/internal/domain/crm"
	"github.com/avishifo/records/internal/domain/observation"
)

// Metrics holds all application metrics
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	RecordMutations     *prometheus.CounterVec
	PatientsLoaded      prometheus.Gauge
	OfflineFallbacks    prometheus.Counter
	InFlightRejected    prometheus.Counter
	BackendRequests     *prometheus.CounterVec
	BackendDuration     *prometheus.HistogramVec
	CRMUsers            *prometheus.GaugeVec
	SystemLoad          *prometheus.GaugeVec
	EventsProduced      *prometheus.CounterVec
	EventsConsumed      *prometheus.CounterVec
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "records_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "records_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		RecordMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "records_mutations_total",
			Help: "Patient record mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		PatientsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "records_patients_loaded",
			Help: "Patients held in the record store",
		}),
		OfflineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "records_offline_fallbacks_total",
			Help: "Patient list loads served from sample data",
		}),
		InFlightRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "records_inflight_rejected_total",
			Help: "Mutations rejected because the same action was running",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "records_backend_requests_total",
			Help: "Clinic API requests by endpoint group and status",
		}, []string{"group", "status"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "records_backend_request_duration_seconds",
			Help:    "Clinic API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"group"}),
		CRMUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "records_crm_users",
			Help: "CRM directory counters",
		}, []string{"kind"}),
		SystemLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "records_system_load_percent",
			Help: "Simulated system load shown on the observation dashboard",
		}, []string{"resource"}),
		EventsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "records_events_produced_total",
			Help: "Domain events published to Kafka",
		}, []string{"topic"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "records_events_consumed_total",
			Help: "Domain events consumed from Kafka",
		}, []string{"topic", "outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "records_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "records_circuit_breaker_open",
			Help: "Circuit breaker open (1) or not (0)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.RecordMutations,
		m.PatientsLoaded,
		m.OfflineFallbacks,
		m.InFlightRejected,
		m.BackendRequests,
		m.BackendDuration,
		m.CRMUsers,
		m.SystemLoad,
		m.EventsProduced,
		m.EventsConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveBackend records one clinic API call. status is 0 for transport errors.
func (m *Metrics) ObserveBackend(group string, status int, elapsed time.Duration) {
	m.BackendRequests.WithLabelValues(group, strconv.Itoa(status)).Inc()
	m.BackendDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

// ObserveMutation counts a record mutation outcome
func (m *Metrics) ObserveMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RecordMutations.WithLabelValues(operation, outcome).Inc()
}

// ObserveFallback counts a patient list served from sample data
func (m *Metrics) ObserveFallback() {
	m.OfflineFallbacks.Inc()
}

// ObserveRejected counts a mutation rejected by the in-flight guard
func (m *Metrics) ObserveRejected() {
	m.InFlightRejected.Inc()
}

// ObservePatients sets the number of patients held by the store
func (m *Metrics) ObservePatients(n int) {
	m.PatientsLoaded.Set(float64(n))
}

// ObserveCRM publishes directory stats
func (m *Metrics) ObserveCRM(s crm.Stats) {
	m.CRMUsers.WithLabelValues("total").Set(float64(s.TotalUsers))
	m.CRMUsers.WithLabelValues("admins").Set(float64(s.Admins))
	m.CRMUsers.WithLabelValues("doctors").Set(float64(s.Doctors))
	m.CRMUsers.WithLabelValues("patients").Set(float64(s.Patients))
	m.CRMUsers.WithLabelValues("blocked").Set(float64(s.BlockedUsers))
	m.CRMUsers.WithLabelValues("active_today").Set(float64(s.ActiveToday))
	m.CRMUsers.WithLabelValues("new_this_week").Set(float64(s.NewThisWeek))
	m.CRMUsers.WithLabelValues("premium").Set(float64(s.PremiumUsers))
}

// ObserveLoad publishes the observation metrics
func (m *Metrics) ObserveLoad(l observation.Metrics) {
	m.SystemLoad.WithLabelValues("cpu").Set(l.CPU)
	m.SystemLoad.WithLabelValues("memory").Set(l.Memory)
	m.SystemLoad.WithLabelValues("storage").Set(l.Storage)
	m.SystemLoad.WithLabelValues("network").Set(l.Network)
}

// ObserveBreaker records whether a breaker is open
func (m *Metrics) ObserveBreaker(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// ObserveProduced counts an event published by the outbox relay
func (m *Metrics) ObserveProduced(topic string) {
	m.EventsProduced.WithLabelValues(topic).Inc()
}

// ObserveConsumed counts an event handled by the activity consumer
func (m *Metrics) ObserveConsumed(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsConsumed.WithLabelValues(topic, outcome).Inc()
}

// ObserveOutbox sets the number of unpublished outbox entries
func (m *Metrics) ObserveOutbox(pending int64) {
	m.OutboxPending.Set(float64(pending))
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
