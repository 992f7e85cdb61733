package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
)

// envelope is the bridge wire format. Data is a complete outbound frame.
type envelope struct {
	Origin string          `json:"origin"`
	UserID UserID          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// Bridge relays fan-outs between instances over a NATS subject. Every
// instance publishes its pushes and re-delivers pushes from other instances
// to its local sockets.
type Bridge struct {
	nc       *nats.Conn
	subject  string
	origin   string
	registry *Registry
	logger   *zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ Publisher = (*Bridge)(nil)

// NewBridge creates a bridge on subject delivering into registry.
func NewBridge(nc *nats.Conn, subject string, registry *Registry, logger *zerolog.Logger) *Bridge {
	return &Bridge{
		nc:       nc,
		subject:  subject,
		origin:   uuid.NewString(),
		registry: registry,
		logger:   logging.OrDefault(logger),
	}
}

// Publish sends a fan-out to the other instances.
func (b *Bridge) Publish(_ context.Context, userID UserID, data []byte) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, UserID: userID, Data: data})
	if err != nil {
		return fmt.Errorf("encode bridge envelope: %w", err)
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	metrics.RecordBridge("out")
	return nil
}

// Subscribe starts receiving fan-outs from other instances. It returns once
// the server has registered the subscription.
func (b *Bridge) Subscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}

	sub, err := b.nc.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	b.sub = sub
	b.logger.Info().Str("subject", b.subject).Str("origin", b.origin).Msg("bridge subscribed")
	return nil
}

// Unsubscribe stops receiving fan-outs.
func (b *Bridge) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return
	}
	if err := b.sub.Unsubscribe(); err != nil {
		b.logger.Debug().Err(err).Msg("bridge unsubscribe failed")
	}
	b.sub = nil
}

// Serve subscribes and stays subscribed until ctx is done.
func (b *Bridge) Serve(ctx context.Context) error {
	if err := b.Subscribe(); err != nil {
		return err
	}
	<-ctx.Done()
	b.Unsubscribe()
	return ctx.Err()
}

func (b *Bridge) String() string {
	return "realtime-bridge"
}

func (b *Bridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn().Err(err).Msg("dropping malformed bridge message")
		return
	}
	if env.Origin == b.origin {
		return
	}
	metrics.RecordBridge("in")
	b.registry.Fanout(env.UserID, env.Data)
}
