package realtime

import (
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
)

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	dispatcher *Dispatcher
	cfg        ConnConfig
	upgrader   websocket.Upgrader
	logger     *zerolog.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewHandler returns a websocket endpoint. An empty allowedOrigins accepts
// any origin.
func NewHandler(d *Dispatcher, cfg ConnConfig, allowedOrigins []string, logger *zerolog.Logger) *Handler {
	h := &Handler{
		dispatcher: d,
		cfg:        cfg,
		logger:     logging.OrDefault(logger),
		conns:      make(map[*Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := NewConn(ws, h.cfg, h.logger)
	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	h.logger.Debug().Str("socket", conn.ID()).Str("remote", r.RemoteAddr).Msg("websocket connected")
	_ = h.dispatcher.Serve(r.Context(), conn)
}

func (h *Handler) track(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	metrics.WSConnections.Inc()
	return true
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		metrics.WSConnections.Dec()
	}
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every open connection and rejects new ones. Hijacked
// connections are not tracked by http.Server, so shutdown must call this.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
