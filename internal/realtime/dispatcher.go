package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
)

// Publisher forwards a fan-out to other instances.
type Publisher interface {
	Publish(ctx context.Context, userID UserID, data []byte) error
}

// DispatcherConfig configures a Dispatcher. Zero values fall back to
// defaults: trust the claimed userId, no rate limit, no publisher.
type DispatcherConfig struct {
	Auth      Authenticator
	SyncRate  float64 // sync_request per second per socket; 0 disables the limit
	SyncBurst int
	Publisher Publisher
	Logger    *zerolog.Logger
}

// Dispatcher interprets inbound socket messages and pushes sync payloads.
type Dispatcher struct {
	registry  *Registry
	source    SnapshotSource
	auth      Authenticator
	publisher Publisher
	syncRate  rate.Limit
	syncBurst int
	logger    *zerolog.Logger
}

// NewDispatcher creates a dispatcher over registry and source.
func NewDispatcher(registry *Registry, source SnapshotSource, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		source:    source,
		auth:      cfg.Auth,
		publisher: cfg.Publisher,
		syncRate:  rate.Inf,
		syncBurst: cfg.SyncBurst,
		logger:    logging.OrDefault(cfg.Logger),
	}
	if d.auth == nil {
		d.auth = TrustAuthenticator{}
	}
	if cfg.SyncRate > 0 {
		d.syncRate = rate.Limit(cfg.SyncRate)
	}
	if d.syncBurst < 1 {
		d.syncBurst = 1
	}
	return d
}

// Serve runs a session for conn until the connection ends, then closes it.
func (d *Dispatcher) Serve(ctx context.Context, conn *Conn) error {
	session := d.NewSession(conn)
	defer func() {
		session.Close()
		_ = conn.Close()
	}()

	err := conn.ReadLoop(func(data []byte) {
		session.Handle(ctx, data)
	})
	if err != nil {
		d.logger.Debug().Err(err).Str("socket", conn.ID()).Msg("socket read ended")
	}
	return err
}

// Push sends payload as SYNC_DATA to every socket of userID on this instance
// and publishes it for other instances.
func (d *Dispatcher) Push(ctx context.Context, userID UserID, payload any) (FanoutResult, error) {
	data, err := EncodeSyncData(payload)
	if err != nil {
		return FanoutResult{}, err
	}

	res := d.registry.Fanout(userID, data)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, userID, data); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SessionState is the lifecycle state of one socket's session.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session tracks one socket through Unauthenticated, Authenticated and
// Closed. Handle must be called sequentially, in arrival order.
type Session struct {
	d       *Dispatcher
	socket  Socket
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	state  SessionState
	userID UserID
}

// NewSession starts an unauthenticated session for s.
func (d *Dispatcher) NewSession(s Socket) *Session {
	return &Session{
		d:       d,
		socket:  s,
		limiter: rate.NewLimiter(d.syncRate, d.syncBurst),
		logger:  d.logger.With().Str("socket", s.ID()).Logger(),
	}
}

// Handle processes one inbound frame. Bad frames are logged and dropped.
func (s *Session) Handle(ctx context.Context, data []byte) {
	if s.State() == StateClosed {
		return
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping inbound message")
		label := msg.Type
		if label != TypeAuth && label != TypeSyncRequest {
			label = "unknown" // client supplied, keep label cardinality bounded
		}
		metrics.RecordMessage(label, metrics.OutcomeMalformed)
		return
	}

	switch msg.Type {
	case TypeAuth:
		s.handleAuth(ctx, msg)
	case TypeSyncRequest:
		s.handleSyncRequest(ctx)
	}
}

func (s *Session) handleAuth(ctx context.Context, msg Inbound) {
	userID, err := s.d.auth.Authenticate(ctx, msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", string(msg.UserID)).Msg("auth rejected")
		metrics.RecordMessage(msg.Type, metrics.OutcomeRejected)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	// Register under the lock so a concurrent Close cannot unregister first
	// and leave the socket behind.
	previous, moved := s.d.registry.Register(userID, s.socket)
	s.state = StateAuthenticated
	s.userID = userID
	s.mu.Unlock()

	if moved {
		s.logger.Info().Str("user", string(userID)).Str("previous_user", string(previous)).Msg("socket re-authenticated")
	} else {
		s.logger.Debug().Str("user", string(userID)).Msg("socket authenticated")
	}
	metrics.RecordMessage(msg.Type, metrics.OutcomeHandled)
}

func (s *Session) handleSyncRequest(ctx context.Context) {
	state, userID := s.snapshot()
	if state != StateAuthenticated {
		s.logger.Debug().Msg("sync_request before auth, dropping")
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeRejected)
		return
	}
	if !s.limiter.Allow() {
		s.logger.Warn().Str("user", string(userID)).Msg("sync_request rate limited")
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeRateLimited)
		return
	}

	start := time.Now()
	snapshot, err := s.d.source.GetUserData(ctx, userID)
	metrics.ObserveSync(time.Since(start))
	if err != nil {
		s.logger.Error().Err(err).Str("user", string(userID)).Msg("failed to load user snapshot")
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeFailed)
		return
	}
	if snapshot == nil {
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeHandled)
		return
	}

	data, err := EncodeSyncData(snapshot)
	if err != nil {
		s.logger.Error().Err(err).Str("user", string(userID)).Msg("failed to encode snapshot")
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeFailed)
		return
	}
	if err := s.socket.Send(data); err != nil {
		lvl := zerolog.WarnLevel
		if errors.Is(err, ErrSocketClosed) {
			lvl = zerolog.DebugLevel
		}
		s.logger.WithLevel(lvl).Err(err).Str("user", string(userID)).Msg("failed to send snapshot")
		metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeFailed)
		return
	}
	metrics.RecordMessage(TypeSyncRequest, metrics.OutcomeHandled)
}

// Close ends the session and removes the socket from the registry. Later
// calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.d.registry.Unregister(s.socket)
}

// State returns the session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user, if any.
func (s *Session) UserID() UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) snapshot() (SessionState, UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.userID
}
