package database

import (
	"context"
	"time"
)

// Driver opens the physical pool behind a Pool. The pgx implementation is
// the production driver; tests substitute an in-memory one.
type Driver interface {
	// Open constructs a backend. It must not block on network I/O; the Pool
	// probes connectivity itself. emit receives lifecycle signals and must
	// never block.
	Open(ctx context.Context, opts Options, emit func(Signal)) (Backend, error)
}

// Backend is a bounded set of physical connections.
type Backend interface {
	Acquire(ctx context.Context) (Conn, error)
	// AcquireIdle takes every connection that is idle right now. Callers must
	// Release or Discard each one.
	AcquireIdle(ctx context.Context) []Conn
	Stat() BackendStat
	Close()
}

// Conn is one leased physical connection.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
	Ping(ctx context.Context) error
	PID() uint32
	// Release returns the connection to the backend.
	Release()
	// Discard closes the connection and removes it from the backend.
	Discard()
}

// BackendStat is a point-in-time snapshot of backend occupancy.
type BackendStat struct {
	Total int
	Idle  int
	Max   int
}

// Result holds the rows and command tag of a completed statement.
type Result struct {
	Columns      []string
	Rows         []map[string]any
	RowsAffected int64
	Command      string
}

// SignalKind identifies a pool lifecycle event.
type SignalKind int

const (
	SignalConnected SignalKind = iota
	SignalRemoved
	SignalIdleError
)

func (k SignalKind) String() string {
	switch k {
	case SignalConnected:
		return "connected"
	case SignalRemoved:
		return "removed"
	case SignalIdleError:
		return "idle_error"
	default:
		return "unknown"
	}
}

// Signal is a lifecycle event delivered to the Supervisor.
type Signal struct {
	Kind SignalKind
	PID  uint32
	Err  error
	// Conn is set for SignalIdleError: the broken connection, still held,
	// which the receiver must discard.
	Conn Conn
	At   time.Time
}
