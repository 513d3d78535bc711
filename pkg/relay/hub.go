package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rescp17/signbridge/pkg/concurrency"
	"github.com/rescp17/signbridge/pkg/metrics"
	"github.com/rescp17/signbridge/pkg/signaling"
)

// Message results recorded in metrics.
const (
	resultDelivered = "delivered"
	resultDropped   = "dropped"
	resultInvalid   = "invalid"
)

type callRecord struct {
	id       string
	caller   signaling.Caller
	calleeID string
	accepted bool
	ring     *concurrency.Timer
}

func (r *callRecord) involves(userID string) bool {
	return r.caller.ID == userID || r.calleeID == userID
}

func (r *callRecord) other(userID string) string {
	if r.caller.ID == userID {
		return r.calleeID
	}
	return r.caller.ID
}

// Hub keeps one connection per user and the calls between them.
type Hub struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*client
	calls   map[string]*callRecord
}

func newHub(cfg Config, clk clock.Clock, m *metrics.Metrics) *Hub {
	return &Hub{
		cfg:     cfg,
		clock:   clk,
		metrics: m,
		clients: make(map[string]*client),
		calls:   make(map[string]*callRecord),
	}
}

// register makes c the connection of its user, closing any older one.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		slog.Info("Replacing existing relay connection", "userId", c.userID)
		old.close()
	} else {
		h.metrics.RelayConnected(1)
	}
	slog.Info("Relay client connected", "userId", c.userID, "connId", c.id)
}

// unregister drops c and ends its calls, unless a newer connection of the
// same user already took over.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.userID] != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.userID)
	var ended []*callRecord
	for id, rec := range h.calls {
		if rec.involves(c.userID) {
			rec.ring.Stop()
			delete(h.calls, id)
			ended = append(ended, rec)
		}
	}
	h.mu.Unlock()

	h.metrics.RelayConnected(-1)
	slog.Info("Relay client disconnected", "userId", c.userID, "connId", c.id, "endedCalls", len(ended))
	for _, rec := range ended {
		h.notifyEnded(rec, c.userID)
	}
}

// Online reports whether userID has a live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// ActiveCalls returns the number of ringing or accepted calls.
func (h *Hub) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *Hub) handle(from *client, env signaling.Envelope) {
	switch env.Event {
	case signaling.EventCallUser:
		h.callUser(from, env)
	case signaling.EventAcceptCall:
		h.acceptCall(from, env)
	case signaling.EventRejectCall:
		h.rejectCall(from, env)
	case signaling.EventEndCall:
		h.endCall(from, env)
	default:
		if env.Event.Targeted() {
			h.forward(from, env)
			return
		}
		slog.Warn("Unknown relay event", "event", env.Event, "userId", from.userID)
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
	}
}

func (h *Hub) callUser(from *client, env signaling.Envelope) {
	p, err := signaling.Decode[signaling.CallUserPayload](env.Data)
	if err != nil || p.CallID == "" || p.TargetUserID == "" {
		slog.Warn("Invalid call-user payload", "userId", from.userID, "error", err)
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return
	}

	h.mu.Lock()
	if _, exists := h.calls[p.CallID]; exists {
		h.mu.Unlock()
		slog.Warn("Duplicate call id", "callId", p.CallID, "userId", from.userID)
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return
	}
	_, online := h.clients[p.TargetUserID]
	if !online || p.TargetUserID == from.userID {
		h.mu.Unlock()
		slog.Info("Call target unavailable", "callId", p.CallID, "target", p.TargetUserID)
		h.metrics.RelayMessage(string(env.Event), resultDropped)
		h.send(from.userID, signaling.EventCallRejected, signaling.CallNoticePayload{
			CallID:     p.CallID,
			FromUserID: p.TargetUserID,
			Reason:     signaling.ReasonUnavailable,
		})
		return
	}
	rec := &callRecord{
		id:       p.CallID,
		caller:   signaling.Caller{ID: from.userID, Name: from.name},
		calleeID: p.TargetUserID,
		ring:     concurrency.NewTimer("ring "+p.CallID, h.clock),
	}
	h.calls[p.CallID] = rec
	rec.ring.Reset(h.cfg.RingTimeout, func() { h.ringExpired(rec.id) })
	h.mu.Unlock()

	slog.Info("Call ringing", "callId", rec.id, "caller", rec.caller.ID, "callee", rec.calleeID)
	h.sendCounted(env.Event, rec.calleeID, signaling.EventIncomingCall, signaling.IncomingCallPayload{
		CallID: rec.id,
		Caller: rec.caller,
	})
}

func (h *Hub) ringExpired(callID string) {
	h.mu.Lock()
	rec, ok := h.calls[callID]
	if !ok || rec.accepted {
		h.mu.Unlock()
		return
	}
	delete(h.calls, callID)
	h.mu.Unlock()

	slog.Info("Call not answered", "callId", callID)
	caller := rec.caller
	h.send(rec.calleeID, signaling.EventCallMissed, signaling.CallNoticePayload{
		CallID: callID,
		Caller: &caller,
	})
	h.send(rec.caller.ID, signaling.EventCallRejected, signaling.CallNoticePayload{
		CallID:     callID,
		FromUserID: rec.calleeID,
		Reason:     signaling.ReasonNoAnswer,
	})
}

// lookup returns the call named in env if from is the party allowed to act
// on it.
func (h *Hub) lookup(from *client, env signaling.Envelope, calleeOnly bool) (*callRecord, bool) {
	p, err := signaling.Decode[signaling.CallIDPayload](env.Data)
	if err != nil || p.CallID == "" {
		slog.Warn("Invalid call control payload", "event", env.Event, "userId", from.userID, "error", err)
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return nil, false
	}
	rec, ok := h.calls[p.CallID]
	if !ok || !rec.involves(from.userID) || (calleeOnly && rec.calleeID != from.userID) {
		slog.Warn("Call control for unknown call", "event", env.Event, "callId", p.CallID, "userId", from.userID)
		h.metrics.RelayMessage(string(env.Event), resultDropped)
		return nil, false
	}
	return rec, true
}

func (h *Hub) acceptCall(from *client, env signaling.Envelope) {
	h.mu.Lock()
	rec, ok := h.lookup(from, env, true)
	if !ok || rec.accepted {
		h.mu.Unlock()
		return
	}
	rec.accepted = true
	rec.ring.Stop()
	h.mu.Unlock()

	slog.Info("Call accepted", "callId", rec.id)
	h.sendCounted(env.Event, rec.caller.ID, signaling.EventCallAccepted, signaling.CallNoticePayload{
		CallID:     rec.id,
		FromUserID: from.userID,
	})
}

func (h *Hub) rejectCall(from *client, env signaling.Envelope) {
	h.mu.Lock()
	rec, ok := h.lookup(from, env, true)
	if !ok || rec.accepted {
		h.mu.Unlock()
		return
	}
	rec.ring.Stop()
	delete(h.calls, rec.id)
	h.mu.Unlock()

	slog.Info("Call declined", "callId", rec.id)
	h.sendCounted(env.Event, rec.caller.ID, signaling.EventCallRejected, signaling.CallNoticePayload{
		CallID:     rec.id,
		FromUserID: from.userID,
		Reason:     signaling.ReasonDeclined,
	})
}

func (h *Hub) endCall(from *client, env signaling.Envelope) {
	h.mu.Lock()
	rec, ok := h.lookup(from, env, false)
	if !ok {
		h.mu.Unlock()
		return
	}
	rec.ring.Stop()
	delete(h.calls, rec.id)
	h.mu.Unlock()

	h.metrics.RelayMessage(string(env.Event), resultDelivered)
	h.notifyEnded(rec, from.userID)
}

// notifyEnded tells the other party of rec that the user by hung up. It is
// a cancellation while the call was ringing and an end once accepted.
func (h *Hub) notifyEnded(rec *callRecord, by string) {
	event := signaling.EventCallEnded
	if !rec.accepted {
		event = signaling.EventCallCancelled
	}
	slog.Info("Call finished", "callId", rec.id, "by", by, "notice", event)
	h.send(rec.other(by), event, signaling.CallNoticePayload{CallID: rec.id, FromUserID: by})
}

// forward relays a peer-to-peer event to its targetUserId, stamping the
// sender as fromUserId.
func (h *Hub) forward(from *client, env signaling.Envelope) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &body); err != nil {
		slog.Warn("Invalid peer event payload", "event", env.Event, "userId", from.userID, "error", err)
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return
	}
	var target string
	if raw, ok := body["targetUserId"]; ok {
		_ = json.Unmarshal(raw, &target)
	}
	if target == "" {
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return
	}

	fromID, _ := json.Marshal(from.userID)
	body["fromUserId"] = fromID
	data, err := json.Marshal(body)
	if err != nil {
		h.metrics.RelayMessage(string(env.Event), resultInvalid)
		return
	}
	h.record(env.Event, h.deliver(target, signaling.Envelope{Event: env.Event, Data: data}))
}

func (h *Hub) send(userID string, event signaling.Event, payload any) bool {
	env, err := signaling.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to encode relay message", "event", event, "error", err)
		return false
	}
	return h.deliver(userID, env)
}

// sendCounted sends and records the outcome against the inbound event.
func (h *Hub) sendCounted(inbound signaling.Event, userID string, event signaling.Event, payload any) {
	h.record(inbound, h.send(userID, event, payload))
}

func (h *Hub) record(event signaling.Event, delivered bool) {
	if delivered {
		h.metrics.RelayMessage(string(event), resultDelivered)
		return
	}
	h.metrics.RelayMessage(string(event), resultDropped)
}

func (h *Hub) deliver(userID string, env signaling.Envelope) bool {
	h.mu.Lock()
	c := h.clients[userID]
	h.mu.Unlock()
	if c == nil {
		slog.Debug("Relay target offline", "userId", userID, "event", env.Event)
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to encode envelope", "event", env.Event, "error", err)
		return false
	}
	if !c.enqueue(data) {
		slog.Warn("Relay send buffer full", "userId", userID, "event", env.Event)
		return false
	}
	return true
}

// Close disconnects every client and cancels ring timers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	for id, rec := range h.calls {
		rec.ring.Stop()
		delete(h.calls, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
