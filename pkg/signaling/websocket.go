package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL               string
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func DefaultWSConfig(rawURL string) WSConfig {
	return WSConfig{
		URL:               rawURL,
		PingInterval:      25 * time.Second,
		PongWait:          60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
	}
}

func (c WSConfig) Validate() error {
	if c.URL == "" {
		return errors.New("signaling url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid signaling url: %w", err)
	}
	if c.PingInterval <= 0 {
		return errors.New("ping interval must be positive")
	}
	if c.PongWait <= c.PingInterval {
		return errors.New("pong wait must be longer than the ping interval")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.ReconnectAttempts < 0 {
		return errors.New("reconnect attempts must not be negative")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	return nil
}

// WSTransport is a gorilla/websocket client Transport with bounded,
// fixed-delay reconnection.
type WSTransport struct {
	cfg    WSConfig
	clock  clock.Clock
	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	token string

	writeMu   sync.Mutex
	connected atomic.Bool
	dialed    atomic.Bool

	incoming     chan Envelope
	closed       chan struct{}
	closeOnce    sync.Once
	incomingOnce sync.Once
}

var _ Transport = (*WSTransport)(nil)

func NewWSTransport(cfg WSConfig, clk clock.Clock) *WSTransport {
	if clk == nil {
		clk = clock.New()
	}
	return &WSTransport{
		cfg:      cfg,
		clock:    clk,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		incoming: make(chan Envelope, 64),
		closed:   make(chan struct{}),
	}
}

func (t *WSTransport) Dial(ctx context.Context, token string) error {
	if !t.dialed.CompareAndSwap(false, true) {
		return errors.New("websocket transport already dialed")
	}
	conn, err := t.dial(ctx, token)
	if err != nil {
		t.dialed.Store(false)
		return err
	}

	t.watch(conn)
	t.mu.Lock()
	t.conn = conn
	t.token = token
	t.mu.Unlock()
	t.connected.Store(true)

	go t.readLoop()
	go t.pingLoop()
	return nil
}

func (t *WSTransport) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling url: %w", err)
	}
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", t.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", t.cfg.URL, err)
	}
	return conn, nil
}

// watch arms the read deadline of conn. Pongs and messages extend it, so a
// half-open connection fails the next read and triggers a reconnect.
func (t *WSTransport) watch(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
}

func (t *WSTransport) Send(env Envelope) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Event, err)
	}
	return nil
}

func (t *WSTransport) Receive() <-chan Envelope {
	return t.incoming
}

func (t *WSTransport) Connected() bool {
	return t.connected.Load()
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.connected.Store(false)

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			t.closeIncoming()
			return
		}
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (t *WSTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *WSTransport) closeIncoming() {
	t.incomingOnce.Do(func() { close(t.incoming) })
}

func (t *WSTransport) readLoop() {
	defer t.closeIncoming()
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.connected.Store(false)
			if t.isClosed() {
				return
			}
			slog.Warn("Signaling connection lost", "error", err)
			if !t.reconnect() {
				return
			}
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))

		select {
		case t.incoming <- env:
		case <-t.closed:
			return
		}
	}
}

// reconnect retries the dial with the original token. It returns false once
// the attempts are used up or the transport was closed.
func (t *WSTransport) reconnect() bool {
	t.mu.Lock()
	token := t.token
	old := t.conn
	t.mu.Unlock()
	_ = old.Close()

	for attempt := 1; attempt <= t.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-t.clock.After(t.cfg.ReconnectDelay):
		case <-t.closed:
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
		conn, err := t.dial(ctx, token)
		cancel()
		if err != nil {
			slog.Warn("Signaling reconnect failed", "attempt", attempt, "of", t.cfg.ReconnectAttempts, "error", err)
			continue
		}

		t.watch(conn)
		t.mu.Lock()
		if t.isClosed() {
			t.mu.Unlock()
			_ = conn.Close()
			return false
		}
		t.conn = conn
		t.mu.Unlock()
		t.connected.Store(true)
		slog.Info("Signaling reconnected", "attempt", attempt)
		return true
	}
	slog.Error("Signaling reconnect attempts exhausted", "attempts", t.cfg.ReconnectAttempts)
	return false
}

func (t *WSTransport) pingLoop() {
	ticker := t.clock.Ticker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if !t.connected.Load() {
				continue
			}
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				slog.Debug("Signaling ping failed", "error", err)
			}
		}
	}
}
