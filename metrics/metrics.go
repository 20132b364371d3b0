// Package metrics defines the Prometheus collectors exposed by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the collectors tracking connection and session activity.
// A nil *Metrics is a valid no-op receiver for the helper methods, so
// library users who don't run Prometheus can skip it entirely.
type Metrics struct {
	// Session lifecycle
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter

	// Accept loop
	ConnectionsAccepted prometheus.Counter
	AcceptErrors        prometheus.Counter
	DuplicateEndpoints  prometheus.Counter
}

// New creates and registers the server's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tcpserve_active_sessions",
			Help: "Current number of live sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcpserve_sessions_started_total",
			Help: "Total number of sessions whose processing loop was started",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcpserve_sessions_ended_total",
			Help: "Total number of sessions whose processing loop has ended",
		}),
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcpserve_connections_accepted_total",
			Help: "Total number of connections accepted by the listener",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcpserve_accept_errors_total",
			Help: "Total number of errors returned by accept",
		}),
		DuplicateEndpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcpserve_duplicate_endpoints_total",
			Help: "Total number of connections dropped because their endpoint identity was already registered",
		}),
	}
}

// SessionStarted records a session's processing loop starting.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded records a session's processing loop ending.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsEnded.Inc()
	m.ActiveSessions.Dec()
}

// ConnectionAccepted records one accepted connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
}

// AcceptError records one failed accept.
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.AcceptErrors.Inc()
}

// DuplicateEndpoint records a connection dropped for a duplicate identity.
func (m *Metrics) DuplicateEndpoint() {
	if m == nil {
		return
	}
	m.DuplicateEndpoints.Inc()
}
