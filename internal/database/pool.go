package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/retry"
)

const probeSQL = `SELECT current_database() AS db, current_user AS "user", version() AS version`

const (
	minSignalBuffer      = 64
	idleCheckConcurrency = 4
)

// State is the lifecycle state of a Pool.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerInfo is what the connectivity probe reports.
type ServerInfo struct {
	Database string
	User     string
	Version  string
}

// Stats is a snapshot of pool state and occupancy.
type Stats struct {
	State           State
	Suspect         bool
	Total           int
	Idle            int
	Leased          int
	Max             int
	Constructions   int64
	ConnectAttempts int64
	LastError       string
	Server          ServerInfo
}

// Pool owns a bounded set of database connections behind an initialization
// guard. Create one with NewPool; the zero value is not usable.
type Pool struct {
	opts    Options
	driver  Driver
	policy  retry.Policy
	logger  *zerolog.Logger
	signals chan Signal
	init    singleflight.Group

	mu      sync.RWMutex
	state   State
	suspect bool
	backend Backend
	lastErr error
	server  ServerInfo

	constructions   atomic.Int64
	connectAttempts atomic.Int64
	leased          atomic.Int64
}

// NewPool creates an uninitialized pool. Nothing is dialed until Initialize.
func NewPool(opts Options, driver Driver, policy retry.Policy, logger *zerolog.Logger) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		opts:    opts,
		driver:  driver,
		policy:  policy.WithDefaults(),
		logger:  logging.OrDefault(logger),
		signals: make(chan Signal, max(minSignalBuffer, 2*opts.MaxConns)),
	}
}

// Initialize brings the pool to Ready. It returns immediately when the pool
// is already Ready. Otherwise every concurrent caller waits on one shared
// attempt. The attempt itself ignores ctx cancellation and runs until it
// succeeds or exhausts its retries; ctx only bounds how long this caller
// waits for it.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.RLock()
	state, suspect := p.state, p.suspect
	p.mu.RUnlock()

	switch {
	case state == StateClosed:
		return ErrPoolClosed
	case state == StateReady && !suspect:
		return nil
	}

	detached := context.WithoutCancel(ctx)
	ch := p.init.DoChan("initialize", func() (any, error) {
		return nil, p.connect(detached)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect runs one initialization attempt. Only one runs at a time.
func (p *Pool) connect(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.state == StateClosed:
		p.mu.Unlock()
		return ErrPoolClosed
	case p.state == StateReady && !p.suspect:
		p.mu.Unlock()
		return nil
	}
	// A suspect Ready pool keeps serving leases while it is re-probed.
	if p.state != StateReady {
		p.state = StateConnecting
	}
	p.suspect = false
	backend := p.backend
	p.mu.Unlock()

	if backend == nil {
		b, err := p.driver.Open(ctx, p.opts, p.emit)
		if err != nil {
			p.fail(nil, err)
			return &ConnectError{Err: err}
		}
		p.constructions.Add(1)
		backend = b

		p.mu.Lock()
		if p.state == StateClosed {
			p.mu.Unlock()
			backend.Close()
			return ErrPoolClosed
		}
		p.backend = backend
		p.mu.Unlock()
	}

	attempt := 0
	info, err := backoff.Retry(ctx, func() (ServerInfo, error) {
		attempt++
		p.connectAttempts.Add(1)

		info, err := p.probe(ctx, backend)
		if err != nil {
			d := diagnose(err)
			p.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", p.policy.MaxRetries).
				Str("code", d.code).
				Str("detail", d.detail).
				Str("hint", d.hint).
				Msg("database connection attempt failed")
			return ServerInfo{}, err
		}
		return info, nil
	},
		backoff.WithBackOff(p.policy.BackOff()),
		backoff.WithMaxElapsedTime(p.retryDeadline()),
	)
	if err != nil {
		p.fail(backend, err)
		p.logger.Error().Err(err).Int("attempts", attempt).Msg("database unreachable, giving up")
		return &ConnectError{Attempts: attempt, Err: err}
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.state = StateReady
	p.lastErr = nil
	p.server = info
	p.mu.Unlock()

	p.logger.Info().
		Str("database", info.Database).
		Str("user", info.User).
		Str("version", info.Version).
		Int("attempts", attempt).
		Msg("database pool ready")
	return nil
}

// retryDeadline bounds the whole retry loop: every backoff sleep plus a
// full probe timeout per attempt.
func (p *Pool) retryDeadline() time.Duration {
	perAttempt := p.opts.ConnectTimeout + p.opts.QueryTimeout
	return p.policy.Budget() + time.Duration(p.policy.MaxRetries)*perAttempt + time.Minute
}

// fail moves the pool to Failed. The backend, if any, is closed in the
// background because pgxpool.Close waits for outstanding leases.
func (p *Pool) fail(backend Backend, err error) {
	p.mu.Lock()
	if p.state != StateClosed {
		p.state = StateFailed
		p.lastErr = err
		if p.backend == backend {
			p.backend = nil
		}
	}
	p.mu.Unlock()

	if backend != nil {
		go backend.Close()
	}
}

func (p *Pool) probe(ctx context.Context, backend Backend) (ServerInfo, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	conn, err := backend.Acquire(actx)
	cancel()
	if err != nil {
		return ServerInfo{}, err
	}
	defer conn.Release()

	qctx, cancel := context.WithTimeout(ctx, p.opts.QueryTimeout)
	defer cancel()

	res, err := conn.Query(qctx, probeSQL)
	if err != nil {
		return ServerInfo{}, err
	}
	if len(res.Rows) == 0 {
		return ServerInfo{}, errors.New("probe returned no rows")
	}
	row := res.Rows[0]
	return ServerInfo{
		Database: fmt.Sprint(row["db"]),
		User:     fmt.Sprint(row["user"]),
		Version:  fmt.Sprint(row["version"]),
	}, nil
}

// Lease acquires an exclusive connection. The wait is bounded by the acquire
// timeout; running out of it with every connection in use yields
// ErrPoolExhausted.
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	p.mu.RLock()
	state, backend := p.state, p.backend
	p.mu.RUnlock()

	switch {
	case state == StateClosed:
		return nil, ErrPoolClosed
	case state != StateReady || backend == nil:
		return nil, ErrNotReady
	}

	actx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	conn, err := backend.Acquire(actx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Only a pool at capacity is exhausted. A timeout below capacity
		// means a new connection could not be opened in time.
		if st := backend.Stat(); errors.Is(err, context.DeadlineExceeded) && st.Total >= st.Max {
			p.logger.Warn().Dur("acquire_timeout", p.opts.AcquireTimeout).Int("max_conns", st.Max).Msg("timed out waiting for a connection")
			return nil, ErrPoolExhausted
		}
		p.logger.Warn().Err(err).Msg("failed to acquire connection")
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	p.leased.Add(1)
	return &Lease{conn: conn, pool: p}, nil
}

// Query leases a connection, runs sql under the query timeout and releases
// the connection on every path. Failures are logged and returned as
// *QueryError.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	lease, err := p.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Query(ctx, sql, args...)
}

// CheckIdle pings every idle connection. Healthy ones go back to the pool;
// each broken one is handed to the Supervisor as an idle error. It returns
// the number of broken connections.
func (p *Pool) CheckIdle(ctx context.Context) int {
	p.mu.RLock()
	state, backend := p.state, p.backend
	p.mu.RUnlock()
	if state != StateReady || backend == nil {
		return 0
	}

	var broken atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(idleCheckConcurrency)

	for _, conn := range backend.AcquireIdle(ctx) {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
			defer cancel()

			if err := conn.Ping(pctx); err != nil {
				broken.Add(1)
				p.emit(Signal{
					Kind: SignalIdleError,
					PID:  conn.PID(),
					Err:  &IdleConnectionError{PID: conn.PID(), Err: err},
					Conn: conn,
				})
				return nil
			}
			conn.Release()
			return nil
		})
	}
	_ = g.Wait()

	return int(broken.Load())
}

// Signals returns the lifecycle signal stream consumed by the Supervisor.
func (p *Pool) Signals() <-chan Signal {
	return p.signals
}

// emit delivers a signal without blocking. When the Supervisor is behind, the
// signal is dropped; a broken connection it carried is discarded here so it
// never returns to the pool.
func (p *Pool) emit(sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	select {
	case p.signals <- sig:
	default:
		p.logger.Warn().Stringer("signal", sig.Kind).Uint32("pid", sig.PID).Msg("signal buffer full, dropping")
		if sig.Conn != nil {
			discardConn(sig.Conn, p.logger)
		}
	}
}

// discardConn closes a connection that is already known to be broken. A
// panicking driver is logged so the caller keeps running.
func discardConn(conn Conn, logger *zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Uint32("pid", conn.PID()).Msg("panic while discarding connection")
		}
	}()
	conn.Discard()
}

// markSuspect forces the next Initialize to re-probe a Ready pool.
func (p *Pool) markSuspect(err error) {
	p.mu.Lock()
	if p.state == StateReady {
		p.suspect = true
	}
	if err != nil {
		p.lastErr = err
	}
	p.mu.Unlock()
}

// underfilled reports whether the pool holds fewer connections than its
// configured minimum.
func (p *Pool) underfilled() bool {
	p.mu.RLock()
	backend := p.backend
	p.mu.RUnlock()
	if backend == nil {
		return false
	}
	return backend.Stat().Total < p.opts.MinConns
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats returns a snapshot of pool state and occupancy.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	s := Stats{
		State:   p.state,
		Suspect: p.suspect,
		Max:     p.opts.MaxConns,
		Server:  p.server,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	backend := p.backend
	p.mu.RUnlock()

	if backend != nil {
		bs := backend.Stat()
		s.Total, s.Idle, s.Max = bs.Total, bs.Idle, bs.Max
	}
	s.Leased = int(p.leased.Load())
	s.Constructions = p.constructions.Load()
	s.ConnectAttempts = p.connectAttempts.Load()
	return s
}

// Close shuts the pool down. It blocks until leased connections are
// returned. Calling Close more than once is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	backend := p.backend
	p.backend = nil
	p.mu.Unlock()

	if backend != nil {
		backend.Close()
	}
	p.logger.Info().Msg("database pool closed")
}
