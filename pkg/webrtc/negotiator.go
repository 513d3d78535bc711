package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/concurrency"
	"github.com/rescp17/signbridge/pkg/metrics"
	"github.com/rescp17/signbridge/pkg/notify"
)

const KeepaliveLabel = "keepalive"

// Hint approximates the signaling state from this side's point of view.
type Hint int

const (
	HintIdle Hint = iota
	HintOfferSent
	HintAnswerPending
	HintStable
)

func (h Hint) String() string {
	switch h {
	case HintIdle:
		return "idle"
	case HintOfferSent:
		return "offer-sent"
	case HintAnswerPending:
		return "answer-pending"
	case HintStable:
		return "stable"
	default:
		return fmt.Sprintf("hint(%d)", int(h))
	}
}

// NegotiationState is a read-only snapshot of a Negotiator.
type NegotiationState struct {
	Hint              Hint
	Negotiating       bool
	PendingCandidates int
	Connected         bool
	ConnectedAt       time.Time
	Restarts          int
}

type NegotiatorConfig struct {
	CallID string
	Role   call.Role
	Peer   Config
	Timing Timing
}

type NegotiatorOption func(*Negotiator)

func WithClock(clk clock.Clock) NegotiatorOption {
	return func(n *Negotiator) { n.clock = clk }
}

func WithMetrics(m *metrics.Metrics) NegotiatorOption {
	return func(n *Negotiator) { n.metrics = m }
}

func WithMediaSource(src MediaSource) NegotiatorOption {
	return func(n *Negotiator) { n.media = src }
}

// Negotiator owns the peer connection of one call. It drives offer/answer,
// holds ICE candidates until a remote description exists, watches the
// connection and ICE states and restarts ICE once per outage.
type Negotiator struct {
	callID   string
	role     call.Role
	peerCfg  Config
	timing   Timing
	factory  PeerFactory
	signaler Signaler
	media    MediaSource
	clock    clock.Clock
	metrics  *metrics.Metrics
	bus      *notify.Bus[Event]
	closed   atomic.Bool

	mu                sync.Mutex
	pc                PeerConnection
	dc                DataChannel
	hint              Hint
	negotiating       bool
	remoteSet         bool
	pendingOffer      *webrtc.SessionDescription
	pendingCandidates []webrtc.ICECandidateInit
	connected         bool
	connectedAt       time.Time
	connState         webrtc.PeerConnectionState
	iceState          webrtc.ICEConnectionState
	restartAttempted  bool
	restartPending    bool
	restarts          int

	disconnectTimer *concurrency.Timer
	failedTimer     *concurrency.Timer
	iceTimer        *concurrency.Timer
	stopDuration    chan struct{}
	stopKeepalive   chan struct{}
}

func NewNegotiator(cfg NegotiatorConfig, factory PeerFactory, signaler Signaler, opts ...NegotiatorOption) (*Negotiator, error) {
	if signaler == nil {
		return nil, errors.New("signaler is not configured")
	}
	if factory == nil {
		return nil, errors.New("peer factory is not configured")
	}
	if cfg.CallID == "" {
		return nil, errors.New("call id is required")
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}

	n := &Negotiator{
		callID:   cfg.CallID,
		role:     cfg.Role,
		peerCfg:  cfg.Peer,
		timing:   cfg.Timing,
		factory:  factory,
		signaler: signaler,
		clock:    clock.New(),
		bus:      notify.NewBus[Event](),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.disconnectTimer = concurrency.NewTimer("disconnect-grace", n.clock)
	n.failedTimer = concurrency.NewTimer("failed-grace", n.clock)
	n.iceTimer = concurrency.NewTimer("ice-restart", n.clock)
	return n, nil
}

func (n *Negotiator) CallID() string { return n.callID }

func (n *Negotiator) Subscribe(fn func(Event)) (cancel func()) {
	return n.bus.Subscribe(fn)
}

func (n *Negotiator) State() NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NegotiationState{
		Hint:              n.hint,
		Negotiating:       n.negotiating,
		PendingCandidates: len(n.pendingCandidates),
		Connected:         n.connected,
		ConnectedAt:       n.connectedAt,
		Restarts:          n.restarts,
	}
}

// Duration is the whole number of seconds since the first connected state.
func (n *Negotiator) Duration() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.durationLocked()
}

func (n *Negotiator) durationLocked() time.Duration {
	if !n.connected {
		return 0
	}
	return n.clock.Since(n.connectedAt).Truncate(time.Second)
}

// Stats returns the peer connection statistics, or nil before Start.
func (n *Negotiator) Stats() webrtc.StatsReport {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.GetStats()
}

// Start builds the peer connection. The initiator also opens the keepalive
// channel and sends the first offer; the receiver answers an offer that
// arrived before Start.
func (n *Negotiator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed.Load() {
		n.mu.Unlock()
		return ErrNegotiatorClosed
	}
	if n.pc != nil {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}

	pc, err := n.factory.NewPeerConnection(n.peerCfg)
	if err != nil {
		n.mu.Unlock()
		return n.setupFailed(fmt.Errorf("failed to create peer connection: %w", err))
	}
	n.pc = pc
	n.installHandlers(pc)
	n.addLocalTracksLocked(pc)

	if n.role != call.RoleInitiator {
		pending := n.pendingOffer
		n.pendingOffer = nil
		n.mu.Unlock()

		slog.Info("Negotiator started", "callId", n.callID, "role", n.role, "bufferedOffer", pending != nil)
		if pending != nil {
			n.HandleOffer(*pending)
		}
		return nil
	}

	dc, err := pc.CreateDataChannel(KeepaliveLabel, nil)
	if err != nil {
		slog.Warn("Failed to create keepalive channel", "callId", n.callID, "error", err)
	} else {
		n.dc = dc
	}

	offer, err := n.createOfferLocked(nil)
	n.mu.Unlock()
	if err != nil {
		return n.setupFailed(err)
	}
	if dc != nil {
		n.attachDataChannel(dc)
	}

	slog.Info("Negotiator started", "callId", n.callID, "role", n.role)
	n.signaler.SendOffer(offer)
	return nil
}

func (n *Negotiator) addLocalTracksLocked(pc PeerConnection) {
	if n.media == nil {
		return
	}
	for _, track := range n.media.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			slog.Warn("Failed to add local track", "callId", n.callID, "track", track.ID(), "error", err)
		}
	}
	slog.Debug("Local media attached", "callId", n.callID, "senders", len(pc.GetSenders()))
}

// createOfferLocked creates and applies a local offer and marks the
// negotiation in flight.
func (n *Negotiator) createOfferLocked(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	offer, err := n.pc.CreateOffer(options)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("fail to create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("fail to set local description: %w", err)
	}
	n.hint = HintOfferSent
	n.negotiating = true
	return offer, nil
}

func (n *Negotiator) installHandlers(pc PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || n.closed.Load() {
			return
		}
		n.signaler.SendICECandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(n.onConnectionState)
	pc.OnICEConnectionStateChange(n.onICEState)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if n.closed.Load() {
			return
		}
		ev := TrackEvent{CallID: n.callID, Track: track}
		if track != nil {
			ev.Kind = track.Kind()
		}
		slog.Info("Remote track arrived", "callId", n.callID, "kind", ev.Kind)
		n.bus.Publish(ev)
	})
	pc.OnDataChannel(func(dc DataChannel) {
		if dc.Label() != KeepaliveLabel {
			slog.Debug("Ignoring data channel", "callId", n.callID, "label", dc.Label())
			return
		}
		n.mu.Lock()
		n.dc = dc
		n.mu.Unlock()
		n.attachDataChannel(dc)
	})
}

// HandleOffer answers a remote offer. Offers that arrive before Start are
// buffered. An offer that collides with our own outstanding offer is rolled
// back on the receiver side and held on the initiator side.
func (n *Negotiator) HandleOffer(offer webrtc.SessionDescription) {
	n.mu.Lock()
	if n.closed.Load() {
		n.mu.Unlock()
		return
	}
	if n.pc == nil {
		n.pendingOffer = &offer
		n.mu.Unlock()
		slog.Info("Buffering offer until the peer connection exists", "callId", n.callID)
		return
	}
	if n.negotiating {
		if n.role == call.RoleInitiator {
			n.pendingOffer = &offer
			n.mu.Unlock()
			slog.Info("Buffering offer while negotiating", "callId", n.callID, "hint", n.hint)
			return
		}
		if err := n.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			slog.Warn("Failed to roll back local offer", "callId", n.callID, "error", err)
		}
		n.restartPending = false
		slog.Info("Rolled back local offer for remote offer", "callId", n.callID)
	}

	n.negotiating = true
	n.hint = HintAnswerPending
	answer, err := n.answerLocked(offer)
	n.negotiating = false
	if err != nil {
		wasConnected := n.connected
		n.mu.Unlock()
		n.negotiationFailed(wasConnected, err)
		return
	}
	n.hint = HintStable
	n.mu.Unlock()

	n.signaler.SendAnswer(answer)
}

func (n *Negotiator) answerLocked(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	n.remoteSet = true
	n.flushCandidatesLocked()

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description for answer: %w", err)
	}
	return answer, nil
}

// HandleAnswer applies the answer to our outstanding offer. Answers that
// arrive in any other state are ignored.
func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) {
	n.mu.Lock()
	if n.closed.Load() || n.pc == nil {
		n.mu.Unlock()
		return
	}
	if n.hint != HintOfferSent {
		hint := n.hint
		n.mu.Unlock()
		slog.Debug("Ignoring answer", "callId", n.callID, "hint", hint)
		return
	}

	err := n.pc.SetRemoteDescription(answer)
	n.negotiating = false
	n.restartPending = false
	if err != nil {
		wasConnected := n.connected
		n.mu.Unlock()
		n.negotiationFailed(wasConnected, fmt.Errorf("failed to set remote answer: %w", err))
		return
	}
	n.remoteSet = true
	n.hint = HintStable
	n.flushCandidatesLocked()

	if n.pendingOffer != nil {
		// The polite side has abandoned the colliding offer by now.
		n.pendingOffer = nil
		slog.Info("Discarding offer that collided with ours", "callId", n.callID)
	}
	n.mu.Unlock()
}

// HandleICECandidate applies a remote candidate, or queues it while there is
// no remote description yet.
func (n *Negotiator) HandleICECandidate(candidate webrtc.ICECandidateInit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed.Load() {
		return
	}
	if n.pc == nil || !n.remoteSet {
		n.pendingCandidates = append(n.pendingCandidates, candidate)
		n.metrics.ICECandidate("queued")
		return
	}
	n.applyCandidateLocked(candidate)
}

func (n *Negotiator) flushCandidatesLocked() {
	if len(n.pendingCandidates) == 0 {
		return
	}
	queued := n.pendingCandidates
	n.pendingCandidates = nil
	slog.Debug("Flushing queued candidates", "callId", n.callID, "count", len(queued))
	for _, c := range queued {
		n.applyCandidateLocked(c)
	}
}

func (n *Negotiator) applyCandidateLocked(candidate webrtc.ICECandidateInit) {
	if err := n.pc.AddICECandidate(candidate); err != nil {
		slog.Warn("Failed to add ICE candidate", "callId", n.callID, "hint", n.hint, "error", err)
		n.metrics.ICECandidate("failed")
		return
	}
	n.metrics.ICECandidate("applied")
}

func (n *Negotiator) setupFailed(err error) error {
	wrapped := fmt.Errorf("%w: %w", ErrSetupFailed, err)
	slog.Error("Negotiation failed", "callId", n.callID, "role", n.role, "error", err)
	n.bus.Publish(SetupFailedEvent{CallID: n.callID, Err: wrapped})
	return wrapped
}

// negotiationFailed aborts setup for the first negotiation. A failed
// renegotiation on a live call is left to the connection monitor.
func (n *Negotiator) negotiationFailed(wasConnected bool, err error) {
	if wasConnected {
		slog.Warn("Renegotiation failed", "callId", n.callID, "error", err)
		return
	}
	_ = n.setupFailed(err)
}

func (n *Negotiator) onConnectionState(state webrtc.PeerConnectionState) {
	if n.closed.Load() {
		return
	}
	slog.Info("Peer connection state changed", "callId", n.callID, "state", state.String())

	n.mu.Lock()
	n.connState = state
	switch state {
	case webrtc.PeerConnectionStateConnected:
		n.disconnectTimer.Stop()
		n.failedTimer.Stop()
		first := !n.connected
		if first {
			n.connected = true
			n.connectedAt = n.clock.Now()
			n.startDurationTickerLocked()
		}
		at := n.connectedAt
		n.mu.Unlock()
		if first {
			n.bus.Publish(ConnectedEvent{CallID: n.callID, At: at})
		}
		return
	case webrtc.PeerConnectionStateDisconnected:
		if !n.disconnectTimer.Active() {
			n.disconnectTimer.Reset(n.timing.DisconnectGrace, n.onDisconnectGraceExpired)
		}
	case webrtc.PeerConnectionStateFailed:
		n.failedTimer.Reset(n.timing.FailedGrace, n.onFailedGraceExpired)
	}
	n.mu.Unlock()
}

func (n *Negotiator) onDisconnectGraceExpired() {
	n.mu.Lock()
	state := n.connState
	n.mu.Unlock()
	if n.closed.Load() || state != webrtc.PeerConnectionStateDisconnected {
		return
	}
	n.fatal(fmt.Errorf("%w: disconnected for %s", ErrConnectivityLost, n.timing.DisconnectGrace))
}

func (n *Negotiator) onFailedGraceExpired() {
	n.mu.Lock()
	state := n.connState
	n.mu.Unlock()
	if n.closed.Load() || state != webrtc.PeerConnectionStateFailed {
		return
	}
	n.fatal(fmt.Errorf("%w: connection failed", ErrConnectivityLost))
}

func (n *Negotiator) fatal(err error) {
	slog.Error("Connectivity lost", "callId", n.callID, "error", err)
	n.bus.Publish(FatalErrorEvent{CallID: n.callID, Err: err})
}

func (n *Negotiator) startDurationTickerLocked() {
	stop := make(chan struct{})
	n.stopDuration = stop
	ticker := n.clock.Ticker(n.timing.DurationTick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n.bus.Publish(DurationEvent{CallID: n.callID, Elapsed: n.Duration()})
			}
		}
	}()
}

func (n *Negotiator) onICEState(state webrtc.ICEConnectionState) {
	if n.closed.Load() {
		return
	}
	slog.Info("ICE connection state changed", "callId", n.callID, "state", state.String())

	var held *webrtc.SessionDescription
	n.mu.Lock()
	n.iceState = state
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		n.iceTimer.Stop()
		n.restartAttempted = false
		held = n.abandonRestartLocked()
	case webrtc.ICEConnectionStateDisconnected:
		if !n.restartAttempted && !n.iceTimer.Active() {
			n.iceTimer.Reset(n.timing.ICEDisconnectGrace, func() { n.restartICE(state) })
		}
	case webrtc.ICEConnectionStateFailed:
		if !n.restartAttempted {
			n.iceTimer.Reset(n.timing.ICEFailedGrace, func() { n.restartICE(state) })
		}
	}
	n.mu.Unlock()

	if held != nil {
		n.HandleOffer(*held)
	}
}

// abandonRestartLocked drops a restart offer that is still unanswered when
// ICE recovers without it, so later outages and peer offers are not blocked
// by an answer that was lost. It returns the peer offer held meanwhile.
func (n *Negotiator) abandonRestartLocked() *webrtc.SessionDescription {
	if !n.restartPending || n.pc == nil {
		return nil
	}
	n.restartPending = false
	if n.hint != HintOfferSent {
		return nil
	}
	if err := n.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		slog.Warn("Failed to roll back unanswered restart offer", "callId", n.callID, "error", err)
	}
	n.negotiating = false
	n.hint = HintStable
	held := n.pendingOffer
	n.pendingOffer = nil
	slog.Info("Abandoned unanswered ICE restart", "callId", n.callID, "heldOffer", held != nil)
	return held
}

// restartICE sends one ICE-restart offer per outage unless a negotiation is
// already in flight or ICE recovered meanwhile.
func (n *Negotiator) restartICE(reason webrtc.ICEConnectionState) {
	n.mu.Lock()
	if n.closed.Load() || n.pc == nil {
		n.mu.Unlock()
		return
	}
	if n.iceState != webrtc.ICEConnectionStateDisconnected && n.iceState != webrtc.ICEConnectionStateFailed {
		n.mu.Unlock()
		return
	}
	if n.negotiating || n.restartAttempted {
		n.mu.Unlock()
		slog.Info("Skipping ICE restart", "callId", n.callID, "negotiating", n.negotiating)
		return
	}
	n.restartAttempted = true
	offer, err := n.createOfferLocked(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		n.negotiating = false
		n.mu.Unlock()
		slog.Error("ICE restart failed", "callId", n.callID, "error", err)
		return
	}
	n.restartPending = true
	n.restarts++
	attempt := n.restarts
	n.mu.Unlock()

	slog.Info("Restarting ICE", "callId", n.callID, "reason", reason.String(), "attempt", attempt)
	n.metrics.ICERestart()
	n.signaler.SendOffer(offer)
	n.bus.Publish(ICERestartEvent{CallID: n.callID, Attempt: attempt, Reason: reason})
}

// Close releases the call: timers, tickers, keepalive channel, peer
// connection, local media and queued state. It is safe to call repeatedly.
func (n *Negotiator) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}

	n.mu.Lock()
	n.disconnectTimer.Stop()
	n.failedTimer.Stop()
	n.iceTimer.Stop()
	if n.stopDuration != nil {
		close(n.stopDuration)
		n.stopDuration = nil
	}
	if n.stopKeepalive != nil {
		close(n.stopKeepalive)
		n.stopKeepalive = nil
	}
	dc, pc := n.dc, n.pc
	n.dc, n.pc = nil, nil
	n.pendingCandidates = nil
	n.pendingOffer = nil
	n.negotiating = false
	n.restartPending = false
	n.mu.Unlock()

	var errs []error
	if dc != nil {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close keepalive channel: %w", err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close peer connection: %w", err))
		}
	}
	if n.media != nil {
		n.media.Stop()
	}
	slog.Info("Negotiator closed", "callId", n.callID)
	return errors.Join(errs...)
}
