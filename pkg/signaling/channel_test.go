package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	dials     int
	token     string
	dialErr   error
	connected bool
	sent      []Envelope
	in        chan Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan Envelope, 16)}
}

func (f *fakeTransport) Dial(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return f.dialErr
	}
	f.token = token
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Receive() <-chan Envelope { return f.in }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.in)
	}
	return nil
}

func (f *fakeTransport) Sent() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.sent...)
}

func (f *fakeTransport) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func TestChannel_ReplaysEarlyRegistrationsInOrder(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(json.RawMessage) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	ch.On(EventIncomingCall, record("first"))
	ch.On(EventIncomingCall, record("second"))

	require.NoError(t, ch.Connect(context.Background(), "opaque"))
	ch.On(EventIncomingCall, record("third"))

	transport.in <- Envelope{Event: EventIncomingCall, Data: json.RawMessage(`{}`)}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestChannel_ConnectIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ch.Connect(context.Background(), "token"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transport.Dials())
	assert.True(t, ch.IsConnected())
}

func TestChannel_ConnectFailureCanBeRetried(t *testing.T) {
	transport := newFakeTransport()
	transport.dialErr = errors.New("refused")
	ch := NewChannel(transport)

	err := ch.Connect(context.Background(), "token")
	require.Error(t, err)
	assert.False(t, ch.IsConnected())

	transport.mu.Lock()
	transport.dialErr = nil
	transport.mu.Unlock()

	require.NoError(t, ch.Connect(context.Background(), "token"))
	assert.Equal(t, 2, transport.Dials())
}

func TestChannel_EmitWhileDisconnectedIsDropped(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)

	assert.NotPanics(t, func() {
		ch.Emit(EventEndCall, CallIDPayload{CallID: "c1"})
	})
	assert.Empty(t, transport.Sent())
}

func TestChannel_EmitEncodesEnvelope(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)
	require.NoError(t, ch.Connect(context.Background(), "token"))

	ch.Emit(EventCallUser, CallUserPayload{TargetUserID: "bob", CallID: "c1"})

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, EventCallUser, sent[0].Event)
	assert.JSONEq(t, `{"targetUserId":"bob","callId":"c1"}`, string(sent[0].Data))
}

func TestChannel_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)
	require.NoError(t, ch.Connect(context.Background(), "token"))

	got := make(chan string, 1)
	ch.On(EventCallEnded, func(json.RawMessage) { panic("boom") })
	ch.On(EventCallMissed, func(data json.RawMessage) {
		p, err := Decode[CallNoticePayload](data)
		if assert.NoError(t, err) {
			got <- p.CallID
		}
	})

	transport.in <- Envelope{Event: EventCallEnded, Data: json.RawMessage(`{"callId":"c1"}`)}
	transport.in <- Envelope{Event: EventCallMissed, Data: json.RawMessage(`{"callId":"c2"}`)}

	select {
	case id := <-got:
		assert.Equal(t, "c2", id)
	case <-time.After(time.Second):
		t.Fatal("dispatch stopped after a panicking handler")
	}
}

func TestChannel_UserIDFromToken(t *testing.T) {
	signed := func(claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"user_id claim", signed(jwt.MapClaims{"user_id": "alice", "sub": "ignored"}), "alice"},
		{"subject fallback", signed(jwt.MapClaims{"sub": "bob"}), "bob"},
		{"opaque token", "not-a-jwt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(newFakeTransport())
			require.NoError(t, ch.Connect(context.Background(), tt.token))
			assert.Equal(t, tt.want, ch.UserID())
		})
	}
}

func TestChannel_CloseEndsDispatch(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)
	require.NoError(t, ch.Connect(context.Background(), "token"))

	require.NoError(t, ch.Close())
	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
	assert.False(t, ch.IsConnected())
	assert.ErrorIs(t, ch.Connect(context.Background(), "token"), ErrClosed)
}
