package client

import (
	pionwebrtc "github.com/pion/webrtc/v4"
	appevents "github.com/rescp17/signbridge/internal/app_events"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/gesture"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/rescp17/signbridge/pkg/webrtc"
)

var (
	_ call.Transport  = callTransport{}
	_ call.Presenter  = (*App)(nil)
	_ webrtc.Signaler = peerLink{}
	_ gesture.Sender  = peerLink{}
)

// callTransport sends call control over the signaling channel.
type callTransport struct {
	channel *signaling.Channel
}

func (t callTransport) emit(event signaling.Event, payload any) error {
	if !t.channel.IsConnected() {
		return signaling.ErrNotConnected
	}
	t.channel.Emit(event, payload)
	return nil
}

func (t callTransport) CallUser(targetUserID, callID string) error {
	return t.emit(signaling.EventCallUser, signaling.CallUserPayload{TargetUserID: targetUserID, CallID: callID})
}

func (t callTransport) AcceptCall(callID string) error {
	return t.emit(signaling.EventAcceptCall, signaling.CallIDPayload{CallID: callID})
}

func (t callTransport) RejectCall(callID string) error {
	return t.emit(signaling.EventRejectCall, signaling.CallIDPayload{CallID: callID})
}

func (t callTransport) EndCall(callID string) error {
	return t.emit(signaling.EventEndCall, signaling.CallIDPayload{CallID: callID})
}

// peerLink addresses peer-to-peer events of one call to the other party.
type peerLink struct {
	channel *signaling.Channel
	target  string
}

func (p peerLink) SendOffer(offer pionwebrtc.SessionDescription) {
	p.channel.Emit(signaling.EventOffer, signaling.OfferPayload{TargetUserID: p.target, Offer: offer})
}

func (p peerLink) SendAnswer(answer pionwebrtc.SessionDescription) {
	p.channel.Emit(signaling.EventAnswer, signaling.AnswerPayload{TargetUserID: p.target, Answer: answer})
}

func (p peerLink) SendICECandidate(candidate pionwebrtc.ICECandidateInit) {
	p.channel.Emit(signaling.EventICECandidate, signaling.CandidatePayload{TargetUserID: p.target, Candidate: candidate})
}

func (p peerLink) SendGesture(data signaling.GestureData) {
	p.channel.Emit(signaling.EventGestureData, signaling.GesturePayload{TargetUserID: p.target, GestureData: data})
}

func (p peerLink) SendSpeech(text string) {
	p.channel.Emit(signaling.EventSpeechMessage, signaling.SpeechPayload{
		TargetUserID: p.target,
		MessageData:  signaling.MessageData{Text: text},
	})
}

// The coordinator calls these on the event loop.

func (a *App) ShowIncomingCall(in call.IncomingCall) {
	a.notifyUI(appevents.IncomingCallMsg{Call: in})
}

func (a *App) HideIncomingCall() {
	a.notifyUI(appevents.HidePromptMsg{})
}

func (a *App) Toast(message string) {
	a.notifyUI(appevents.ToastMsg{Text: message})
}

func (a *App) NavigateToCall(session call.Session) {
	a.inCall.Store(true)
	a.notifyUI(appevents.NavigateMsg{Session: session})
}

func (a *App) InCallScreen() bool {
	return a.inCall.Load()
}
