package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func decodeFrames(t *testing.T, frames [][]byte) []syncFrame {
	t.Helper()
	out := make([]syncFrame, len(frames))
	for i, f := range frames {
		require.NoError(t, json.Unmarshal(f, &out[i]))
	}
	return out
}

func balances(data map[UserID]any) SnapshotFunc {
	return func(_ context.Context, userID UserID) (any, error) {
		return data[userID], nil
	}
}

func newTestDispatcher(source SnapshotSource, cfg DispatcherConfig) (*Dispatcher, *Registry) {
	logger := zerolog.Nop()
	cfg.Logger = &logger
	r := NewRegistry(&logger)
	return NewDispatcher(r, source, cfg), r
}

func TestAuthThenSyncRequestRepliesOnce(t *testing.T) {
	source := balances(map[UserID]any{"u1": map[string]any{"balance": 5}})
	d, r := newTestDispatcher(source, DispatcherConfig{})

	sock := newFakeSocket()
	other := newFakeSocket()
	session := d.NewSession(sock)
	otherSession := d.NewSession(other)
	ctx := context.Background()

	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	otherSession.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, 2, r.Count("u1"))

	session.Handle(ctx, []byte(`{"type":"sync_request"}`))

	frames := decodeFrames(t, sock.Frames())
	require.Len(t, frames, 1)
	assert.Equal(t, TypeSyncData, frames[0].Type)
	assert.Equal(t, map[string]any{"balance": float64(5)}, frames[0].Payload)
	assert.Empty(t, other.Frames(), "reply goes to the requesting socket only")
}

func TestSyncRequestBeforeAuthIsDropped(t *testing.T) {
	calls := 0
	source := SnapshotFunc(func(context.Context, UserID) (any, error) {
		calls++
		return map[string]any{}, nil
	})
	d, _ := newTestDispatcher(source, DispatcherConfig{})

	sock := newFakeSocket()
	session := d.NewSession(sock)
	session.Handle(context.Background(), []byte(`{"type":"sync_request"}`))

	assert.Zero(t, calls)
	assert.Empty(t, sock.Frames())
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestNilSnapshotSendsNothing(t *testing.T) {
	d, _ := newTestDispatcher(balances(nil), DispatcherConfig{})

	sock := newFakeSocket()
	session := d.NewSession(sock)
	session.Handle(context.Background(), []byte(`{"type":"auth","userId":"ghost"}`))
	session.Handle(context.Background(), []byte(`{"type":"sync_request"}`))

	assert.Empty(t, sock.Frames())
}

func TestSnapshotErrorKeepsSessionOpen(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	source := SnapshotFunc(func(context.Context, UserID) (any, error) {
		if fail.Load() {
			return nil, errors.New("relation \"users\" does not exist")
		}
		return map[string]any{"balance": 1}, nil
	})
	d, _ := newTestDispatcher(source, DispatcherConfig{})

	sock := newFakeSocket()
	session := d.NewSession(sock)
	ctx := context.Background()
	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	session.Handle(ctx, []byte(`{"type":"sync_request"}`))
	assert.Empty(t, sock.Frames())
	assert.Equal(t, StateAuthenticated, session.State())

	fail.Store(false)
	session.Handle(ctx, []byte(`{"type":"sync_request"}`))
	assert.Len(t, sock.Frames(), 1)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	d, r := newTestDispatcher(balances(nil), DispatcherConfig{})

	sock := newFakeSocket()
	session := d.NewSession(sock)
	ctx := context.Background()

	for _, frame := range []string{`not json`, `{"type":"dance"}`, `{}`} {
		session.Handle(ctx, []byte(frame))
	}
	assert.Equal(t, StateUnauthenticated, session.State())
	assert.False(t, sock.closed)

	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, 1, r.Count("u1"))
}

func TestCloseUnregistersFromAnyState(t *testing.T) {
	d, r := newTestDispatcher(balances(nil), DispatcherConfig{})

	unauth := d.NewSession(newFakeSocket())
	unauth.Close()
	assert.Equal(t, StateClosed, unauth.State())

	sock := newFakeSocket()
	session := d.NewSession(sock)
	session.Handle(context.Background(), []byte(`{"type":"auth","userId":"u1"}`))
	session.Close()
	session.Close()

	assert.Equal(t, StateClosed, session.State())
	assert.False(t, r.Has("u1"))

	session.Handle(context.Background(), []byte(`{"type":"auth","userId":"u1"}`))
	assert.False(t, r.Has("u1"), "closed sessions ignore messages")
}

func TestReauthMovesSocket(t *testing.T) {
	d, r := newTestDispatcher(balances(nil), DispatcherConfig{})

	session := d.NewSession(newFakeSocket())
	session.Handle(context.Background(), []byte(`{"type":"auth","userId":"u1"}`))
	session.Handle(context.Background(), []byte(`{"type":"auth","userId":"u2"}`))

	assert.Equal(t, UserID("u2"), session.UserID())
	assert.False(t, r.Has("u1"))
	assert.Equal(t, 1, r.Count("u2"))
}

func TestSyncRequestRateLimit(t *testing.T) {
	source := balances(map[UserID]any{"u1": map[string]any{"balance": 5}})
	d, _ := newTestDispatcher(source, DispatcherConfig{SyncRate: 0.001, SyncBurst: 2})

	sock := newFakeSocket()
	session := d.NewSession(sock)
	ctx := context.Background()
	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	for range 5 {
		session.Handle(ctx, []byte(`{"type":"sync_request"}`))
	}

	assert.Len(t, sock.Frames(), 2)
}

func TestTokenAuthentication(t *testing.T) {
	const secret = "test-secret"
	sign := func(sub string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		s, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	d, r := newTestDispatcher(balances(nil), DispatcherConfig{Auth: NewTokenAuthenticator(secret)})
	ctx := context.Background()

	session := d.NewSession(newFakeSocket())
	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1"}`))
	assert.Equal(t, StateUnauthenticated, session.State(), "missing token")

	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1","token":"`+sign("u2")+`"}`))
	assert.Equal(t, StateUnauthenticated, session.State(), "subject mismatch")

	session.Handle(ctx, []byte(`{"type":"auth","userId":"u1","token":"`+sign("u1")+`"}`))
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, 1, r.Count("u1"))
}

type recordingPublisher struct {
	userID UserID
	data   []byte
}

func (p *recordingPublisher) Publish(_ context.Context, userID UserID, data []byte) error {
	p.userID, p.data = userID, data
	return nil
}

func TestPushFansOutLocallyAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	d, r := newTestDispatcher(balances(nil), DispatcherConfig{Publisher: pub})

	a, b, c := newFakeSocket(), newFakeSocket(), newFakeSocket()
	r.Register("u1", a)
	r.Register("u1", b)
	r.Register("u2", c)

	res, err := d.Push(context.Background(), "u1", map[string]any{"orders": 3})
	require.NoError(t, err)
	assert.Equal(t, FanoutResult{Delivered: 2}, res)
	assert.Empty(t, c.Frames())

	assert.Equal(t, UserID("u1"), pub.userID)
	assert.JSONEq(t, `{"type":"SYNC_DATA","payload":{"orders":3}}`, string(pub.data))
}
