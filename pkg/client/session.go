package client

import (
	"context"
	"errors"
	"log/slog"

	appevents "github.com/rescp17/signbridge/internal/app_events"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/gesture"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/rescp17/signbridge/pkg/webrtc"
)

// activeCall is the media side of the one call in progress.
type activeCall struct {
	session     call.Session
	negotiator  *webrtc.Negotiator
	relay       *gesture.Relay
	unsubscribe []func()

	classifying      bool
	cancelClassifier context.CancelFunc
	fatal            bool

	// releaseSetup frees the call-setup guard once the call connects or
	// goes away.
	releaseSetup func()
}

func (c *activeCall) peerMatches(fromUserID string) bool {
	return fromUserID == "" || fromUserID == c.session.PeerUserID
}

// onCallNotification runs on the event loop: the coordinator is only driven
// from there.
func (a *App) onCallNotification(n call.Notification) {
	change, ok := n.(call.StateChanged)
	if !ok {
		return
	}
	session := change.Session
	a.notifyUI(appevents.CallStateMsg{Session: session})

	switch {
	case session.State == call.StateCalling, session.State == call.StateConnecting:
		a.startMedia(a.runCtx, session)
	case session.Terminal():
		a.inCall.Store(false)
		a.dropEarlyPeerEvents(session.CallID)
		if a.active != nil && a.active.session.CallID == session.CallID {
			a.teardown()
		}
	}
}

// startMedia creates the negotiator and the gesture relay of session and
// starts negotiating in the background. The initiator runs it while calling,
// so its offer follows call-user; the receiver runs it on accept and replays
// what the caller sent while the call was ringing.
func (a *App) startMedia(ctx context.Context, session call.Session) {
	if a.active != nil {
		if a.active.session.CallID == session.CallID {
			return
		}
		a.teardown()
	}

	releaseSetup, err := a.guard.Acquire()
	if err != nil {
		a.sendAndLogError("Another call is still being set up", err)
		a.endCall()
		return
	}

	var opts []webrtc.NegotiatorOption
	opts = append(opts, webrtc.WithClock(a.clock), webrtc.WithMetrics(a.metrics))
	if a.media != nil {
		src, err := a.media(session.CallID)
		if err != nil {
			a.sendAndLogError("Failed to open local media", err)
		} else if src != nil {
			opts = append(opts, webrtc.WithMediaSource(src))
		}
	}

	peer := peerLink{channel: a.channel, target: session.PeerUserID}
	negotiator, err := webrtc.NewNegotiator(webrtc.NegotiatorConfig{
		CallID: session.CallID,
		Role:   session.Role,
		Peer:   a.cfg.PeerConfig(),
		Timing: a.cfg.Timing,
	}, a.peers, peer, opts...)
	if err != nil {
		releaseSetup()
		a.sendAndLogError("Failed to set up call", err)
		a.endCall()
		return
	}

	callID := session.CallID
	relayOpts := []gesture.RelayOption{gesture.WithClock(a.clock), gesture.WithMetrics(a.metrics)}
	if a.generator != nil {
		relayOpts = append(relayOpts, gesture.WithGenerator(a.generator))
	}
	relay, err := gesture.NewRelay(callID, a.cfg.Gesture, a.sequence, peer, func() bool {
		s, ok := a.coordinator.Active()
		return ok && s.CallID == callID && s.State == call.StateConnected
	}, relayOpts...)
	if err != nil {
		releaseSetup()
		_ = negotiator.Close()
		a.sendAndLogError("Failed to set up gesture relay", err)
		a.endCall()
		return
	}

	active := &activeCall{session: session, negotiator: negotiator, relay: relay, releaseSetup: releaseSetup}
	active.unsubscribe = append(active.unsubscribe,
		negotiator.Subscribe(func(ev webrtc.Event) { a.onNegotiationEvent(callID, ev) }),
		relay.Subscribe(a.onRelayUpdate),
	)
	a.active = active
	a.replayEarlyPeerEvents(active)

	go func() {
		err := negotiator.Start(ctx)
		switch {
		case err == nil:
		case errors.Is(err, webrtc.ErrSetupFailed):
			// Reported through SetupFailedEvent.
		default:
			slog.Warn("Negotiator did not start", "callId", callID, "error", err)
		}
	}()
}

func (a *App) onNegotiationEvent(callID string, ev webrtc.Event) {
	switch e := ev.(type) {
	case webrtc.DurationEvent:
		a.notifyUI(appevents.DurationMsg{Elapsed: e.Elapsed})
	case webrtc.ICERestartEvent:
		a.notifyUI(appevents.ReconnectingMsg{Attempt: e.Attempt})
	default:
		a.post(func(ctx context.Context) { a.handleNegotiationEvent(ctx, callID, ev) })
	}
}

func (a *App) handleNegotiationEvent(ctx context.Context, callID string, ev webrtc.Event) {
	if a.active == nil || a.active.session.CallID != callID {
		return
	}
	switch e := ev.(type) {
	case webrtc.ConnectedEvent:
		a.active.releaseSetup()
		if session, first := a.coordinator.MarkConnected(callID); first {
			slog.Info("Call connected", "callId", callID, "peer", session.PeerUserID)
		}
	case webrtc.TrackEvent:
		a.startClassifier(ctx)
	case webrtc.SetupFailedEvent:
		a.sendAndLogError("Call setup failed", e.Err)
		a.endCall()
	case webrtc.FatalErrorEvent:
		a.active.fatal = true
		slog.Error("Call connectivity lost", "callId", callID, "error", e.Err)
		a.notifyUI(appevents.FatalErrorMsg{Err: e.Err})
	}
}

func (a *App) onRelayUpdate(u gesture.Update) {
	switch e := u.(type) {
	case gesture.WordEvent:
		a.notifyUI(appevents.GestureMsg{Source: e.Source, Word: e.Word})
	case gesture.SentenceEvent:
		a.notifyUI(appevents.SentenceMsg{Sentence: e.Sentence, Replaced: e.Replaced})
	case gesture.SpeechEvent:
		a.notifyUI(appevents.SpeechMsg{Source: e.Source, Text: e.Text})
	}
}

// startClassifier starts the classifier once per call, on the first remote
// track.
func (a *App) startClassifier(ctx context.Context) {
	if a.classifier == nil || a.active == nil || a.active.classifying {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	results, err := a.classifier.Start(ctx)
	if err != nil {
		cancel()
		slog.Warn("Failed to start classifier", "error", err)
		return
	}
	a.active.classifying = true
	a.active.cancelClassifier = cancel

	go func() {
		for c := range results {
			a.post(func(context.Context) { a.observeLocal(c.Label, c.Score) })
		}
	}()
}

func (a *App) observeLocal(label string, score float64) {
	if a.active == nil {
		return
	}
	a.active.relay.ObserveLocal(label, score)
}

// endCall is the single place a call is torn down from this side.
func (a *App) endCall() {
	if _, ok := a.coordinator.Active(); ok {
		if err := a.coordinator.EndCall(""); err != nil {
			slog.Warn("End call did not reach the server", "error", err)
		}
	}
	a.teardown()
}

// teardown releases everything of the active call synchronously.
func (a *App) teardown() {
	active := a.active
	if active == nil {
		return
	}
	a.active = nil
	a.inCall.Store(false)

	active.releaseSetup()
	for _, cancel := range active.unsubscribe {
		cancel()
	}
	if active.cancelClassifier != nil {
		active.cancelClassifier()
		a.classifier.Stop()
	}
	active.relay.Close()
	if err := active.negotiator.Close(); err != nil {
		slog.Warn("Failed to close negotiator", "callId", active.session.CallID, "error", err)
	}
	slog.Info("Call torn down", "callId", active.session.CallID)
}

// handleSignaling helpers for peer events, run on the loop.

func (a *App) handleOffer(p signaling.OfferPayload) {
	if a.active == nil {
		if early := a.earlyPeerEventsFor(p.FromUserID); early != nil {
			early.offer = &p
			slog.Info("Holding offer until the call is accepted", "callId", early.callID, "from", p.FromUserID)
			return
		}
	}
	if a.active == nil || !a.active.peerMatches(p.FromUserID) {
		slog.Warn("Dropping offer without a matching call", "from", p.FromUserID)
		return
	}
	a.active.negotiator.HandleOffer(p.Offer)
}

func (a *App) handleAnswer(p signaling.AnswerPayload) {
	if a.active == nil || !a.active.peerMatches(p.FromUserID) {
		slog.Warn("Dropping answer without a matching call", "from", p.FromUserID)
		return
	}
	a.active.negotiator.HandleAnswer(p.Answer)
}

func (a *App) handleCandidate(p signaling.CandidatePayload) {
	if a.active == nil {
		if early := a.earlyPeerEventsFor(p.FromUserID); early != nil {
			if len(early.candidates) < earlyCandidateLimit {
				early.candidates = append(early.candidates, p)
			}
			return
		}
	}
	if a.active == nil || !a.active.peerMatches(p.FromUserID) {
		slog.Debug("Dropping candidate without a matching call", "from", p.FromUserID)
		return
	}
	a.active.negotiator.HandleICECandidate(p.Candidate)
}

func (a *App) handleGesture(p signaling.GesturePayload) {
	if a.active == nil || !a.active.peerMatches(p.FromUserID) {
		return
	}
	a.active.relay.HandleRemoteGesture(p.GestureData)
}

func (a *App) handleSpeech(p signaling.SpeechPayload) {
	if a.active == nil || !a.active.peerMatches(p.FromUserID) {
		return
	}
	a.active.relay.HandleRemoteSpeech(p.MessageData.Text)
}
