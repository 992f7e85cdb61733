package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saranga-ayurveda/backend/internal/database"
	"github.com/saranga-ayurveda/backend/internal/realtime"
)

type fakePusher struct {
	userID  realtime.UserID
	payload any
	res     realtime.FanoutResult
	err     error
}

func (p *fakePusher) Push(_ context.Context, userID realtime.UserID, payload any) (realtime.FanoutResult, error) {
	p.userID, p.payload = userID, payload
	return p.res, p.err
}

type fakeRegistry struct{ users, sockets int }

func (r fakeRegistry) Users() int { return r.users }
func (r fakeRegistry) Sockets() int { return r.sockets }

func testRouter(stats database.Stats, push pusher, secret string) http.Handler {
	logger := zerolog.Nop()
	return newRouter(routerDeps{
		stats:       func() database.Stats { return stats },
		sockets:     func() int { return 3 },
		registry:    fakeRegistry{users: 2, sockets: 2},
		ws:          http.NotFoundHandler(),
		push:        push,
		pushSecret:  secret,
		metricsPath: "/metrics",
		started:     time.Now().Add(-time.Minute),
		logger:      &logger,
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		stats      database.Stats
		wantCode   int
		wantStatus string
	}{
		{
			name:       "ready",
			stats:      database.Stats{State: database.StateReady, Total: 2, Idle: 1, Leased: 1, Max: 10},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "ready but suspect",
			stats:      database.Stats{State: database.StateReady, Suspect: true},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "failed",
			stats:      database.Stats{State: database.StateFailed, LastError: "connection refused"},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "not initialized",
			stats:      database.Stats{State: database.StateUninitialized},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			testRouter(tt.stats, &fakePusher{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.stats.State.String(), body.Database["state"])
			assert.Equal(t, 3, body.Sockets)
			assert.Equal(t, 2, body.Realtime.Users)
			assert.Equal(t, 2, body.Realtime.Registered)
			assert.GreaterOrEqual(t, body.Uptime, 60.0)
			if tt.stats.LastError != "" {
				assert.Equal(t, tt.stats.LastError, body.Database["last_error"])
			}
		})
	}
}

func TestRoot(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(database.Stats{}, &fakePusher{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"API is running"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(database.Stats{}, &fakePusher{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPush(t *testing.T) {
	p := &fakePusher{res: realtime.FanoutResult{Delivered: 2}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/push/42", strings.NewReader(`{"balance":5}`))
	testRouter(database.Stats{}, p, "").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":2,"failed":0}`, rec.Body.String())
	assert.Equal(t, realtime.UserID("42"), p.userID)

	raw, ok := p.payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"balance":5}`, string(raw))
}

func TestPushRejectsInvalidBody(t *testing.T) {
	p := &fakePusher{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/push/42", strings.NewReader(`{balance`))
	testRouter(database.Stats{}, p, "").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.userID)
}

func TestPushPublishFailure(t *testing.T) {
	p := &fakePusher{res: realtime.FanoutResult{Delivered: 1}, err: errors.New("nats: connection closed")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/push/42", strings.NewReader(`{}`))
	testRouter(database.Stats{}, p, "").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivered":1`)
}

func TestPushRequiresToken(t *testing.T) {
	const secret = "push-secret"
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "orders-service"}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "orders-service"}).
		SignedString([]byte("other"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "missing", header: "", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + signed, wantCode: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + forged, wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signed, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/push/u1", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			testRouter(database.Stats{}, &fakePusher{}, secret).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
