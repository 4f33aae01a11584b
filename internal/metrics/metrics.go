// Package metrics defines the Prometheus instrumentation for the session
// machine, the offline outbox, and the remote adapter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	// SessionState tracks the current session state (one-hot gauge per state).
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_state",
			Help: "Current session state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// SessionErrorFlag is 1 while the session is degraded.
	SessionErrorFlag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_error_flag",
			Help: "1 while the session error flag is raised",
		},
	)

	// ProfileFetchTotal tracks profile fetch outcomes.
	ProfileFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_fetch_total",
			Help: "Profile fetch attempts by outcome (installed/retained/failed/skipped)",
		},
		[]string{"outcome"},
	)

	// HeartbeatTotal tracks heartbeat cycles by outcome.
	HeartbeatTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_total",
			Help: "Heartbeat cycles by outcome (ok/reconciled/failed/empty)",
		},
		[]string{"outcome"},
	)

	// RecoveryTotal tracks explicit session recovery attempts.
	RecoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_recovery_total",
			Help: "Explicit session recovery attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// Outbox metrics
var (
	// OutboxDepth tracks the number of pending mutations in the local store.
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_depth",
			Help: "Pending mutations currently queued locally",
		},
	)

	// OutboxEnqueuedTotal counts locally enqueued mutations.
	OutboxEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_enqueued_total",
			Help: "Mutations enqueued to the local outbox",
		},
	)

	// ReplayTotal tracks replay outcomes per item.
	ReplayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_replay_total",
			Help: "Replay attempts by outcome (ok/rejected/transient/storage)",
		},
		[]string{"outcome"},
	)

	// AttachmentUploadFailures counts skipped attachment uploads during replay.
	AttachmentUploadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_attachment_upload_failures_total",
			Help: "Attachment uploads skipped after failing during replay",
		},
	)
)

// Remote adapter metrics
var (
	// RemoteRequestsTotal tracks remote service calls by operation and status.
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_requests_total",
			Help: "Remote service requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RemoteBreakerState tracks the circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	RemoteBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remote_breaker_state",
			Help: "Remote service circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// API metrics
var (
	// APIErrorsTotal tracks loopback API errors by type.
	APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Loopback API errors by error type",
		},
		[]string{"type"},
	)
)

// SetSessionState flips the one-hot session state gauge to the given state.
func SetSessionState(state string) {
	for _, s := range []string{"uninitialized", "initializing", "authenticated", "unauthenticated"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
