package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by RecordMessage.
const (
	OutcomeHandled     = "handled"
	OutcomeMalformed   = "malformed"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"
)

var (
	// PoolRecoveriesTotal counts deferred pool re-initializations by result.
	PoolRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_pool_recoveries_total",
			Help: "Total number of deferred pool re-initializations",
		},
		[]string{"result"},
	)

	// WSConnections is the number of open websocket connections.
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Number of open websocket connections",
		},
	)

	// WSMessagesTotal counts inbound websocket messages by type and outcome.
	WSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "Total number of inbound websocket messages",
		},
		[]string{"type", "outcome"},
	)

	// FanoutDeliveriesTotal counts per-socket fan-out sends by result.
	FanoutDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_fanout_deliveries_total",
			Help: "Total number of per-socket fan-out deliveries",
		},
		[]string{"result"},
	)

	// SyncDuration tracks how long snapshot lookups take.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_snapshot_duration_seconds",
			Help:    "Duration of user snapshot lookups in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// BreakerState is the snapshot circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_breaker_state",
			Help: "Snapshot circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// BridgeMessagesTotal counts cross-instance messages by direction.
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Total number of cross-instance bridge messages",
		},
		[]string{"direction"},
	)
)

// RecordRecovery records the outcome of a deferred pool re-initialization.
func RecordRecovery(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PoolRecoveriesTotal.WithLabelValues(result).Inc()
}

// RecordMessage records an inbound websocket message.
func RecordMessage(msgType, outcome string) {
	if msgType == "" {
		msgType = "unknown"
	}
	WSMessagesTotal.WithLabelValues(msgType, outcome).Inc()
}

// RecordFanout records the per-socket results of one fan-out.
func RecordFanout(delivered, failed int) {
	FanoutDeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	FanoutDeliveriesTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSync records the latency of a snapshot lookup.
func ObserveSync(d time.Duration) {
	SyncDuration.Observe(d.Seconds())
}

// SetBreakerState records the state of a named circuit breaker.
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordBridge records a bridge message; direction is "out" or "in".
func RecordBridge(direction string) {
	BridgeMessagesTotal.WithLabelValues(direction).Inc()
}
