// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Database pool state, occupancy and recoveries
//   - WebSocket connections and inbound message outcomes
//   - Sync snapshot latency and circuit breaker state
//   - Cross-instance bridge traffic
package metrics
