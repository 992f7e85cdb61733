package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
)

// SnapshotSource loads the sync payload for a user. A nil snapshot with a nil
// error means there is nothing to send.
type SnapshotSource interface {
	GetUserData(ctx context.Context, userID UserID) (any, error)
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func(ctx context.Context, userID UserID) (any, error)

func (f SnapshotFunc) GetUserData(ctx context.Context, userID UserID) (any, error) {
	return f(ctx, userID)
}

const breakerTripFailures = 5

// BreakerSource guards a SnapshotSource with a circuit breaker. While open,
// lookups fail fast with gobreaker.ErrOpenState.
type BreakerSource struct {
	source SnapshotSource
	cb     *gobreaker.CircuitBreaker[any]
}

// NewBreakerSource wraps source. The breaker opens after consecutive
// failures and probes again after timeout.
func NewBreakerSource(name string, source SnapshotSource, timeout time.Duration, logger *zerolog.Logger) *BreakerSource {
	log := logging.OrDefault(logger)
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))

	return &BreakerSource{
		source: source,
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("snapshot breaker state changed")
				metrics.SetBreakerState(name, int(to))
			},
		}),
	}
}

func (b *BreakerSource) GetUserData(ctx context.Context, userID UserID) (any, error) {
	return b.cb.Execute(func() (any, error) {
		return b.source.GetUserData(ctx, userID)
	})
}

// State returns the breaker state.
func (b *BreakerSource) State() gobreaker.State {
	return b.cb.State()
}
