// Package metrics provides Prometheus metrics for the credential manager
// and lobby synchronizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts refresh calls by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "token_refresh_total",
			Help:      "Total number of access token refresh calls",
		},
		[]string{"status"},
	)

	// RefreshShared counts callers that waited on another caller's refresh.
	RefreshShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "token_refresh_shared_total",
			Help:      "Total number of ensure-valid calls that shared an in-flight refresh",
		},
	)

	// CredentialChecks counts ensure-valid outcomes.
	CredentialChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "credential_checks_total",
			Help:      "Total number of credential validity checks by resulting state",
		},
		[]string{"state"},
	)

	// EventsTotal counts inbound lobby events by name and disposition.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "lobby_events_total",
			Help:      "Total number of lobby events received",
		},
		[]string{"event", "result"},
	)

	// JoinTotal counts room joins by outcome.
	JoinTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "lobby_join_total",
			Help:      "Total number of room join attempts",
		},
		[]string{"result"},
	)

	// ReconnectTotal counts transport reconnect attempts by outcome.
	ReconnectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impostr",
			Name:      "transport_reconnect_total",
			Help:      "Total number of transport reconnect attempts",
		},
		[]string{"status"},
	)
)

// RecordRefresh records the outcome of a refresh call.
func RecordRefresh(status string) {
	RefreshTotal.WithLabelValues(status).Inc()
}

// RecordCredentialCheck records the state an ensure-valid call ended in.
func RecordCredentialCheck(state string) {
	CredentialChecks.WithLabelValues(state).Inc()
}

// RecordEvent records an inbound lobby event.
func RecordEvent(event, result string) {
	EventsTotal.WithLabelValues(event, result).Inc()
}

// RecordJoin records the outcome of a join.
func RecordJoin(result string) {
	JoinTotal.WithLabelValues(result).Inc()
}

// RecordReconnect records a reconnect attempt.
func RecordReconnect(status string) {
	ReconnectTotal.WithLabelValues(status).Inc()
}
