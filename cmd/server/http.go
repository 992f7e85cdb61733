package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/database"
	"github.com/saranga-ayurveda/backend/internal/realtime"
	"github.com/saranga-ayurveda/backend/internal/version"
)

const maxPushBody = 1 << 20

// pusher delivers a server-initiated sync payload.
type pusher interface {
	Push(ctx context.Context, userID realtime.UserID, payload any) (realtime.FanoutResult, error)
}

// registryStats reports what the socket registry holds.
type registryStats interface {
	Users() int
	Sockets() int
}

type routerDeps struct {
	stats       func() database.Stats
	sockets     func() int
	registry    registryStats
	ws          http.Handler
	push        pusher
	pushSecret  string // Empty leaves the push endpoint unauthenticated
	metricsPath string // Empty disables /metrics
	started     time.Time
	logger      *zerolog.Logger
}

func newRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.logger), middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API is running"})
	})
	r.Get("/health", healthHandler(d.stats, d.sockets, d.registry, d.started))
	if d.metricsPath != "" {
		r.Handle(d.metricsPath, promhttp.Handler())
	}
	r.Handle("/ws", d.ws)
	r.Post("/internal/push/{userID}", pushHandler(d.push, d.pushSecret, d.logger))

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Uptime    float64        `json:"uptime"`
	Build     version.Info   `json:"build"`
	Database  map[string]any `json:"database"`
	Sockets   int            `json:"sockets"`
	Realtime  realtimeHealth `json:"realtime"`
}

type realtimeHealth struct {
	Users      int `json:"users"`
	Registered int `json:"registered_sockets"`
}

// healthHandler reports 200 while the pool is Ready and 503 otherwise.
func healthHandler(stats func() database.Stats, sockets func() int, registry registryStats, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s := stats()

		health := healthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(started).Seconds(),
			Build:     version.Get(),
			Database: map[string]any{
				"state":   s.State.String(),
				"suspect": s.Suspect,
				"total":   s.Total,
				"idle":    s.Idle,
				"leased":  s.Leased,
				"max":     s.Max,
			},
			Sockets: sockets(),
			Realtime: realtimeHealth{
				Users:      registry.Users(),
				Registered: registry.Sockets(),
			},
		}
		if s.LastError != "" {
			health.Database["last_error"] = s.LastError
		}

		code := http.StatusOK
		switch {
		case s.State != database.StateReady:
			health.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		case s.Suspect:
			health.Status = "degraded"
		}
		writeJSON(w, code, health)
	}
}

// pushHandler sends the request body as SYNC_DATA to every socket of the
// user in the path.
func pushHandler(p pusher, secret string, logger *zerolog.Logger) http.HandlerFunc {
	var parser *jwt.Parser
	if secret != "" {
		parser = jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if parser != nil {
			if err := checkBearer(parser, secret, r.Header.Get("Authorization")); err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
				return
			}
		}

		userID := realtime.UserID(chi.URLParam(r, "userID"))
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read body"})
			return
		}
		if !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be JSON"})
			return
		}

		res, err := p.Push(r.Context(), userID, json.RawMessage(body))
		if err != nil {
			// Local delivery already happened; only the bridge failed.
			logger.Error().Err(err).Str("user", string(userID)).Msg("failed to publish push")
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":     err.Error(),
				"delivered": res.Delivered,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"delivered": res.Delivered, "failed": res.Failed})
	}
}

func checkBearer(parser *jwt.Parser, secret, header string) error {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return errors.New("bearer token required")
	}
	_, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// httpService runs an http.Server under the supervisor tree.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	onShutdown      func()
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are invisible to Shutdown.
		if h.onShutdown != nil {
			h.onShutdown()
		}
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}
