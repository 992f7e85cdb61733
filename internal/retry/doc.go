// Package retry computes the exponential backoff used while bringing the
// database pool up.
//
// The schedule has no jitter: attempt n waits InitialDelay * 2^(n-1).
// Policy is a pure calculator; Attempts adapts it to backoff.BackOff so it
// can drive backoff.Retry.
package retry
