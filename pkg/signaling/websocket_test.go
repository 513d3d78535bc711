package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testWSConfig(url string) WSConfig {
	cfg := DefaultWSConfig(url)
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReconnectAttempts = 2
	return cfg
}

func TestWSTransport_RoundTrip(t *testing.T) {
	var authHeader, queryToken atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		queryToken.Store(r.URL.Query().Get("token"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			env.Event = EventCallAccepted
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	transport := NewWSTransport(testWSConfig(wsURL(server)), nil)
	require.NoError(t, transport.Dial(context.Background(), "tok"))
	defer transport.Close()

	assert.True(t, transport.Connected())
	assert.Equal(t, "Bearer tok", authHeader.Load())
	assert.Equal(t, "tok", queryToken.Load())

	env, err := NewEnvelope(EventAcceptCall, CallIDPayload{CallID: "c1"})
	require.NoError(t, err)
	require.NoError(t, transport.Send(env))

	select {
	case got := <-transport.Receive():
		assert.Equal(t, EventCallAccepted, got.Event)
		p, err := Decode[CallIDPayload](got.Data)
		require.NoError(t, err)
		assert.Equal(t, "c1", p.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope echoed")
	}
}

func TestWSTransport_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if connections.Add(1) == 1 {
			return
		}
		_ = conn.WriteJSON(Envelope{Event: EventIncomingCall})
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	transport := NewWSTransport(testWSConfig(wsURL(server)), nil)
	require.NoError(t, transport.Dial(context.Background(), "tok"))
	defer transport.Close()

	select {
	case got := <-transport.Receive():
		assert.Equal(t, EventIncomingCall, got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not reconnect")
	}
	assert.Equal(t, int32(2), connections.Load())
}

func TestWSTransport_ReconnectsWhenPongsStop(t *testing.T) {
	var connections atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if connections.Add(1) == 1 {
			// Never reads, so pings go unanswered.
			<-release
			return
		}
		_ = conn.WriteJSON(Envelope{Event: EventIncomingCall})
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()
	defer close(release)

	cfg := testWSConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongWait = 100 * time.Millisecond
	transport := NewWSTransport(cfg, nil)
	require.NoError(t, transport.Dial(context.Background(), ""))
	defer transport.Close()

	select {
	case got := <-transport.Receive():
		assert.Equal(t, EventIncomingCall, got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("silent connection was not detected")
	}
	assert.Equal(t, int32(2), connections.Load())
}

func TestWSTransport_AnsweredPingsKeepConnection(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connections.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testWSConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongWait = 100 * time.Millisecond
	transport := NewWSTransport(cfg, nil)
	require.NoError(t, transport.Dial(context.Background(), ""))
	defer transport.Close()

	assert.Never(t, func() bool {
		return connections.Load() != 1 || !transport.Connected()
	}, 400*time.Millisecond, 10*time.Millisecond)
}

func TestWSTransport_GivesUpAfterBoundedAttempts(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	transport := NewWSTransport(testWSConfig(wsURL(server)), nil)
	require.NoError(t, transport.Dial(context.Background(), ""))

	select {
	case _, ok := <-transport.Receive():
		assert.False(t, ok, "receive channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("transport kept retrying")
	}
	assert.False(t, transport.Connected())
	assert.Equal(t, int32(3), requests.Load())
	assert.ErrorIs(t, transport.Send(Envelope{Event: EventEndCall}), ErrNotConnected)
}

func TestWSConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultWSConfig("ws://localhost:8080/ws").Validate())

	cfg := DefaultWSConfig("")
	assert.Error(t, cfg.Validate())

	cfg = DefaultWSConfig("ws://x")
	cfg.PingInterval = 0
	assert.EqualError(t, cfg.Validate(), "ping interval must be positive")

	cfg = DefaultWSConfig("ws://x")
	cfg.PongWait = cfg.PingInterval
	assert.EqualError(t, cfg.Validate(), "pong wait must be longer than the ping interval")
}
