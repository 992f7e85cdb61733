package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/retry"
)

// Supervisor turns pool lifecycle signals into recovery actions. It runs as
// a suture service.
//
// Recovery is never run inside the signal handler. It is scheduled after the
// policy's initial delay, and while one recovery is pending further signals
// do not schedule another.
type Supervisor struct {
	pool      *Pool
	delay     time.Duration
	keepalive time.Duration
	logger    *zerolog.Logger

	pending    atomic.Bool
	recoveries atomic.Int64
	idleErrors atomic.Int64

	mu    sync.Mutex
	timer *time.Timer

	// OnRecovery, when set, is called with the outcome of every deferred
	// Initialize.
	OnRecovery func(err error)
}

// NewSupervisor creates a supervisor for pool. A nil logger uses the global
// logger.
func NewSupervisor(pool *Pool, policy retry.Policy, logger *zerolog.Logger) *Supervisor {
	return &Supervisor{
		pool:      pool,
		delay:     policy.WithDefaults().InitialDelay,
		keepalive: pool.opts.KeepaliveInterval,
		logger:    logging.OrDefault(logger),
	}
}

// Serve consumes pool signals and runs the idle keepalive sweep until ctx
// is done.
func (s *Supervisor) Serve(ctx context.Context) error {
	defer s.stopTimer()

	var tick <-chan time.Time
	if s.keepalive > 0 {
		ticker := time.NewTicker(s.keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-s.pool.Signals():
			s.handle(ctx, sig)
		case <-tick:
			if n := s.pool.CheckIdle(ctx); n > 0 {
				s.logger.Warn().Int("broken", n).Msg("keepalive found broken idle connections")
			}
		}
	}
}

func (s *Supervisor) String() string {
	return "database-supervisor"
}

func (s *Supervisor) handle(ctx context.Context, sig Signal) {
	switch sig.Kind {
	case SignalIdleError:
		s.idleErrors.Add(1)
		d := diagnose(sig.Err)
		s.logger.Error().
			Err(sig.Err).
			Uint32("pid", sig.PID).
			Str("code", d.code).
			Str("detail", d.detail).
			Str("hint", d.hint).
			Msg("idle connection failed, discarding")
		if sig.Conn != nil {
			discardConn(sig.Conn, s.logger)
		}
		s.pool.markSuspect(sig.Err)
		s.scheduleRecovery(ctx, sig.Kind)

	case SignalRemoved:
		s.logger.Info().Uint32("pid", sig.PID).Msg("connection removed from pool")
		if s.pool.opts.Production && s.pool.State() == StateReady {
			s.scheduleRecovery(ctx, sig.Kind)
		}

	case SignalConnected:
		s.logger.Debug().Uint32("pid", sig.PID).Msg("connection established")
	}
}

// scheduleRecovery runs Initialize after the initial delay unless a recovery
// is already pending.
func (s *Supervisor) scheduleRecovery(ctx context.Context, cause SignalKind) {
	if !s.pending.CompareAndSwap(false, true) {
		s.logger.Debug().Stringer("cause", cause).Msg("recovery already pending")
		return
	}

	s.logger.Info().Stringer("cause", cause).Dur("delay", s.delay).Msg("scheduling pool recovery")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.AfterFunc(s.delay, func() {
		s.pending.Store(false)
		if ctx.Err() != nil {
			return
		}
		// Sustained removals without replacement leave the pool short;
		// re-probe it before trusting it again.
		if cause == SignalRemoved && s.pool.underfilled() {
			s.pool.markSuspect(nil)
		}

		s.recoveries.Add(1)
		err := s.pool.Initialize(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("pool recovery failed")
		}
		if s.OnRecovery != nil {
			s.OnRecovery(err)
		}
	})
}

func (s *Supervisor) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return
	}
	// A timer stopped before firing never clears pending itself.
	if s.timer.Stop() {
		s.pending.Store(false)
	}
	s.timer = nil
}

// Recoveries returns how many deferred Initialize calls have run.
func (s *Supervisor) Recoveries() int64 {
	return s.recoveries.Load()
}

// IdleErrors returns how many idle-connection failures were handled.
func (s *Supervisor) IdleErrors() int64 {
	return s.idleErrors.Load()
}
