package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type relayHarness struct {
	server *Server
	http   *httptest.Server
	mock   *clock.Mock
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	mock := clock.NewMock()
	s, err := NewServer(cfg, WithClock(mock))
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return &relayHarness{server: s, http: ts, mock: mock}
}

type testPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *relayHarness) connect(t *testing.T, userID, name string) *testPeer {
	t.Helper()
	token, err := IssueToken(testSecret, userID, name, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.server.Hub().Online(userID) }, time.Second, 5*time.Millisecond)
	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) emit(event signaling.Event, payload any) {
	p.t.Helper()
	env, err := signaling.NewEnvelope(event, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(env))
}

func (p *testPeer) expect(event signaling.Event) json.RawMessage {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env signaling.Envelope
	require.NoError(p.t, p.conn.ReadJSON(&env))
	require.Equal(p.t, event, env.Event)
	return env.Data
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	v, err := signaling.Decode[T](data)
	require.NoError(t, err)
	return v
}

func TestServer_Health(t *testing.T) {
	h := newRelayHarness(t)

	resp, err := http.Get(h.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	metricsResp, err := http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServer_RejectsMissingOrBadToken(t *testing.T) {
	h := newRelayHarness(t)
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := IssueToken("other-secret", "mallory", "", time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+forged, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AcceptedCallFlow(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c1"})
	incoming := decode[signaling.IncomingCallPayload](t, bob.expect(signaling.EventIncomingCall))
	assert.Equal(t, "c1", incoming.CallID)
	assert.Equal(t, signaling.Caller{ID: "alice", Name: "Alice"}, incoming.Caller)

	bob.emit(signaling.EventAcceptCall, signaling.CallIDPayload{CallID: "c1"})
	accepted := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallAccepted))
	assert.Equal(t, "c1", accepted.CallID)
	assert.Equal(t, "bob", accepted.FromUserID)

	alice.emit(signaling.EventOffer, signaling.OfferPayload{
		TargetUserID: "bob",
		Offer:        webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	offer := decode[signaling.OfferPayload](t, bob.expect(signaling.EventOffer))
	assert.Equal(t, "alice", offer.FromUserID)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Offer.Type)
	assert.Equal(t, "v=0", offer.Offer.SDP)

	bob.emit(signaling.EventGestureData, signaling.GesturePayload{
		TargetUserID: "alice",
		GestureData:  signaling.GestureData{Text: "hello", Type: signaling.GestureTypeGesture},
	})
	gesture := decode[signaling.GesturePayload](t, alice.expect(signaling.EventGestureData))
	assert.Equal(t, "bob", gesture.FromUserID)
	assert.Equal(t, "hello", gesture.GestureData.Text)

	// Ring timer must not fire after acceptance.
	h.mock.Add(time.Minute)

	bob.emit(signaling.EventEndCall, signaling.CallIDPayload{CallID: "c1"})
	ended := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallEnded))
	assert.Equal(t, "bob", ended.FromUserID)
	assert.Equal(t, 0, h.server.Hub().ActiveCalls())
}

func TestServer_CallOfflineUserIsUnavailable(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "carol", CallID: "c1"})
	notice := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallRejected))
	assert.Equal(t, signaling.ReasonUnavailable, notice.Reason)
	assert.Equal(t, 0, h.server.Hub().ActiveCalls())
}

func TestServer_RingTimeout(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c1"})
	bob.expect(signaling.EventIncomingCall)
	require.Eventually(t, func() bool { return h.server.Hub().ActiveCalls() == 1 }, time.Second, 5*time.Millisecond)

	h.mock.Add(30 * time.Second)

	missed := decode[signaling.CallNoticePayload](t, bob.expect(signaling.EventCallMissed))
	assert.Equal(t, "c1", missed.CallID)
	require.NotNil(t, missed.Caller)
	assert.Equal(t, "Alice", missed.Caller.Name)

	rejected := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallRejected))
	assert.Equal(t, signaling.ReasonNoAnswer, rejected.Reason)
}

func TestServer_DeclineAndCancel(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c1"})
	bob.expect(signaling.EventIncomingCall)
	bob.emit(signaling.EventRejectCall, signaling.CallIDPayload{CallID: "c1"})
	declined := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallRejected))
	assert.Equal(t, signaling.ReasonDeclined, declined.Reason)

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c2"})
	bob.expect(signaling.EventIncomingCall)
	alice.emit(signaling.EventEndCall, signaling.CallIDPayload{CallID: "c2"})
	cancelled := decode[signaling.CallNoticePayload](t, bob.expect(signaling.EventCallCancelled))
	assert.Equal(t, "c2", cancelled.CallID)
	assert.Equal(t, "alice", cancelled.FromUserID)
}

func TestServer_CallerCannotAcceptOwnCall(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c1"})
	bob.expect(signaling.EventIncomingCall)
	alice.emit(signaling.EventAcceptCall, signaling.CallIDPayload{CallID: "c1"})

	// The call keeps ringing until it times out.
	h.mock.Add(30 * time.Second)
	bob.expect(signaling.EventCallMissed)
	rejected := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallRejected))
	assert.Equal(t, signaling.ReasonNoAnswer, rejected.Reason)
}

func TestServer_DisconnectEndsCall(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")

	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "bob", CallID: "c1"})
	bob.expect(signaling.EventIncomingCall)
	bob.emit(signaling.EventAcceptCall, signaling.CallIDPayload{CallID: "c1"})
	alice.expect(signaling.EventCallAccepted)

	require.NoError(t, bob.conn.Close())

	ended := decode[signaling.CallNoticePayload](t, alice.expect(signaling.EventCallEnded))
	assert.Equal(t, "c1", ended.CallID)
	assert.Equal(t, "bob", ended.FromUserID)
	assert.Eventually(t, func() bool { return !h.server.Hub().Online("bob") }, time.Second, 5*time.Millisecond)
}

func TestServer_ForwardToOfflineTargetIsDropped(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect(t, "alice", "Alice")

	alice.emit(signaling.EventSpeechMessage, signaling.SpeechPayload{
		TargetUserID: "nobody",
		MessageData:  signaling.MessageData{Text: "hi"},
	})
	alice.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: "nobody", CallID: "c1"})

	// The speech message produced nothing; the next frame is the rejection.
	alice.expect(signaling.EventCallRejected)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.EqualError(t, cfg.Validate(), "jwt secret is required")

	cfg.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.PongWait = cfg.PingInterval
	assert.Error(t, cfg.Validate())

	_, err := NewServer(DefaultConfig())
	assert.Error(t, err)
}

func TestParseToken_FallsBackToSubject(t *testing.T) {
	token, err := IssueToken(testSecret, "dave", "", time.Hour)
	require.NoError(t, err)

	claims, err := parseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "dave", claims.UserID)

	_, err = parseToken(testSecret, "not-a-token")
	assert.Error(t, err)
}

func TestIssueToken_RequiresSecretAndUser(t *testing.T) {
	_, err := IssueToken("", "alice", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = IssueToken(testSecret, "", "", time.Hour)
	assert.Error(t, err)
}
