// Package database manages the PostgreSQL connection pool used by request
// handlers.
//
// A Pool is brought up lazily by Initialize, which probes the server with a
// bounded exponential backoff. Concurrent callers join the attempt already in
// flight. Once Ready, Lease hands out exclusive connections until Release.
//
// The pool reports connection lifecycle signals (connected, removed, broken
// while idle) on a channel consumed by a Supervisor. The Supervisor discards
// broken connections and schedules a deferred re-probe, so recovery always
// goes through the same Initialize guard that request handlers use.
//
// Store is the facade handed to request handlers.
package database
