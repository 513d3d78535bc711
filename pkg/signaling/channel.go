package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rescp17/signbridge/pkg/metrics"
)

var (
	ErrNotConnected = errors.New("signaling channel is not connected")
	ErrClosed       = errors.New("signaling channel is closed")
)

// Transport is the bidirectional event connection under a Channel.
// Reconnection, if any, is the transport's business.
type Transport interface {
	Dial(ctx context.Context, token string) error
	Send(env Envelope) error
	// Receive is closed when the transport gives up for good.
	Receive() <-chan Envelope
	Connected() bool
	Close() error
}

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

type registration struct {
	event   Event
	handler Handler
}

// Channel authenticates once, dispatches inbound events to handlers and
// emits outbound events on a best effort basis.
type Channel struct {
	transport Transport
	metrics   *metrics.Metrics

	connectMu sync.Mutex

	mu       sync.RWMutex
	started  bool
	closed   bool
	userID   string
	pending  []registration
	handlers map[Event][]Handler
	done     chan struct{}
}

type ChannelOption func(*Channel)

func WithMetrics(m *metrics.Metrics) ChannelOption {
	return func(c *Channel) { c.metrics = m }
}

func NewChannel(transport Transport, opts ...ChannelOption) *Channel {
	c := &Channel{
		transport: transport,
		handlers:  make(map[Event][]Handler),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the transport once per Channel. Later calls return nil
// without dialing again.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.RLock()
	started, closed := c.started, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}

	if err := c.transport.Dial(ctx, token); err != nil {
		return fmt.Errorf("failed to connect signaling channel: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.userID = userIDFromToken(token)
	for _, r := range c.pending {
		c.handlers[r.event] = append(c.handlers[r.event], r.handler)
	}
	replayed := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	slog.Info("Signaling channel connected", "userId", c.UserID(), "replayedHandlers", replayed)
	go c.dispatch(c.transport.Receive())
	return nil
}

// On registers handler for event. Registrations made before Connect are held
// back and installed, in order, once the connection exists.
func (c *Channel) On(event Event, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.pending = append(c.pending, registration{event: event, handler: handler})
		return
	}
	c.handlers[event] = append(c.handlers[event], handler)
}

// Emit sends payload as event. When the channel is not connected the event is
// dropped and logged.
func (c *Channel) Emit(event Event, payload any) {
	if !c.IsConnected() {
		slog.Warn("Dropping signaling event", "event", event, "error", ErrNotConnected)
		c.metrics.SignalingDropped(string(event))
		return
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to encode signaling event", "event", event, "error", err)
		return
	}
	if err := c.transport.Send(env); err != nil {
		slog.Warn("Failed to send signaling event", "event", event, "error", err)
		c.metrics.SignalingDropped(string(event))
	}
}

func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	started, closed := c.started, c.closed
	c.mu.RUnlock()
	return started && !closed && c.transport.Connected()
}

// UserID is the local user id read from the token claims, empty for opaque
// tokens.
func (c *Channel) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Done is closed once the transport stops delivering events.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	err := c.transport.Close()
	if !started {
		close(c.done)
	}
	return err
}

func (c *Channel) dispatch(in <-chan Envelope) {
	defer close(c.done)
	for env := range in {
		c.mu.RLock()
		handlers := append([]Handler(nil), c.handlers[env.Event]...)
		c.mu.RUnlock()

		if len(handlers) == 0 {
			slog.Debug("No handler for signaling event", "event", env.Event)
			continue
		}
		for _, h := range handlers {
			invoke(env, h)
		}
	}
	slog.Info("Signaling receive loop ended")
}

func invoke(env Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Signaling handler panicked", "event", env.Event, "panic", r)
		}
	}()
	h(env.Data)
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// userIDFromToken reads the user id claim without verifying the signature;
// the server is the one that verifies.
func userIDFromToken(token string) string {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}
