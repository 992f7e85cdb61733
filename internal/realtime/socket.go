package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
)

// Errors
var (
	ErrSocketClosed    = errors.New("socket closed")
	ErrSendBufferFull  = errors.New("send buffer full")
	ErrUnsupportedType = errors.New("unsupported frame type")
)

// Socket is one client connection as seen by the Registry.
type Socket interface {
	ID() string
	// Send queues data for delivery. It must not block.
	Send(data []byte) error
	Close() error
}

// ConnConfig holds websocket transport settings.
type ConnConfig struct {
	WriteTimeout   time.Duration // Per-frame write deadline
	PongTimeout    time.Duration // Read deadline extended by every pong
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

func (c ConnConfig) pingPeriod() time.Duration {
	return c.PongTimeout * 9 / 10
}

// Conn is a Socket over a gorilla websocket connection. Outbound frames go
// through a bounded queue drained by a single write pump.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    ConnConfig
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps ws and starts its write pump.
func NewConn(ws *websocket.Conn, cfg ConnConfig, logger *zerolog.Logger) *Conn {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = DefaultConnConfig().SendBuffer
	}
	id := uuid.NewString()
	c := &Conn{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		logger: logging.OrDefault(logger).With().Str("socket", id).Logger(),
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrSocketClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrSocketClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// ReadLoop delivers inbound text frames to handle, one at a time, until the
// connection fails or is closed. A missing pong within PongTimeout ends the
// loop.
func (c *Conn) ReadLoop(handle func(data []byte)) error {
	if c.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug().Int("frame_type", msgType).Err(ErrUnsupportedType).Msg("dropping frame")
			continue
		}
		handle(data)
	}
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.PongTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if period := c.cfg.pingPeriod(); period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing socket")
				_ = c.Close()
				return
			}

		case <-tick:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("failed to send ping")
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) setWriteDeadline() {
	if c.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}
