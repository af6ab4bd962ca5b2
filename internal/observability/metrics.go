// Package observability holds the Prometheus metrics of the linking service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so tests can skip wiring a registry.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	SessionsCreated     *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	PairingAttempts     *prometheus.CounterVec
	SessionsReclaimed   *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	HandlerFailures     prometheus.Counter
	PersistenceFailures *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SessionsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "subbot",
				Name:      "sessions_active",
				Help:      "Number of sessions held by the registry",
			},
		),
		SessionsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "sessions_created_total",
				Help:      "Sessions created, by link mode",
			},
			[]string{"mode"},
		),
		Transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "state_transitions_total",
				Help:      "Accepted state transitions, by target state",
			},
			[]string{"state"},
		),
		PairingAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "pairing_attempts_total",
				Help:      "Pairing code requests, by result",
			},
			[]string{"result"}, // ok/error/rejected
		),
		SessionsReclaimed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "sessions_reclaimed_total",
				Help:      "Sessions removed, by reason",
			},
			[]string{"reason"},
		),
		EventsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "events_published_total",
				Help:      "Lifecycle events handed to the broadcaster",
			},
			[]string{"type"},
		),
		HandlerFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "event_handler_failures_total",
				Help:      "Subscriber handlers that returned an error or panicked",
			},
		),
		PersistenceFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "persistence_failures_total",
				Help:      "Failed store writes, by operation",
			},
			[]string{"op"},
		),
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subbot",
				Name:      "http_requests_total",
				Help:      "HTTP requests, by route and status class",
			},
			[]string{"route", "status"},
		),
	}
}

func (m *Metrics) SessionCreated(mode string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(mode).Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.SessionsReclaimed.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// SessionDiscarded counts a removed row that was never held in memory.
func (m *Metrics) SessionDiscarded(reason string) {
	if m == nil {
		return
	}
	m.SessionsReclaimed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionRestored() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) PairingAttempt(result string) {
	if m == nil {
		return
	}
	m.PairingAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) HandlerFailed() {
	if m == nil {
		return
	}
	m.HandlerFailures.Inc()
}

func (m *Metrics) PersistenceFailed(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	m.HTTPRequests.WithLabelValues(route, class).Inc()
}
