package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerSourceOpensAfterFailures(t *testing.T) {
	calls := 0
	failing := SnapshotFunc(func(context.Context, UserID) (any, error) {
		calls++
		return nil, errors.New("timeout")
	})
	logger := zerolog.Nop()
	b := NewBreakerSource("test-snapshots", failing, time.Minute, &logger)

	for range breakerTripFailures {
		_, err := b.GetUserData(context.Background(), "u1")
		require.Error(t, err)
	}
	_, err := b.GetUserData(context.Background(), "u1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, breakerTripFailures, calls, "open breaker does not call through")
}

func TestBreakerSourcePassesThrough(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBreakerSource("test-passthrough", balances(map[UserID]any{"u1": 5}), time.Minute, &logger)

	got, err := b.GetUserData(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = b.GetUserData(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
