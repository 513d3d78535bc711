package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Event names a signaling message type on the wire.
type Event string

// Outbound call control.
const (
	EventCallUser   Event = "call-user"
	EventAcceptCall Event = "accept-call"
	EventRejectCall Event = "reject-call"
	EventEndCall    Event = "end-call"
)

// Peer-to-peer events, relayed to targetUserId and delivered with fromUserId.
const (
	EventOffer         Event = "webrtc-offer"
	EventAnswer        Event = "webrtc-answer"
	EventICECandidate  Event = "webrtc-ice-candidate"
	EventGestureData   Event = "gesture-data"
	EventSpeechMessage Event = "speech-message"
)

// Inbound notifications.
const (
	EventIncomingCall  Event = "incoming-call"
	EventCallAccepted  Event = "call-accepted"
	EventCallRejected  Event = "call-rejected"
	EventCallEnded     Event = "call-ended"
	EventCallMissed    Event = "call-missed"
	EventCallCancelled Event = "call-cancelled"
)

// Envelope is the frame exchanged over the transport.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event Event, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals an envelope body into T.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode payload: %w", err)
	}
	return v, nil
}

type CallUserPayload struct {
	TargetUserID string `json:"targetUserId"`
	CallID       string `json:"callId"`
}

// CallIDPayload is the body of accept-call, reject-call and end-call.
type CallIDPayload struct {
	CallID string `json:"callId"`
}

type Caller struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo,omitempty"`
}

type IncomingCallPayload struct {
	CallID string `json:"callId"`
	Caller Caller `json:"caller"`
}

// Rejection reasons carried by call-rejected.
const (
	ReasonUnavailable = "unavailable"
	ReasonNoAnswer    = "no-answer"
	ReasonDeclined    = "declined"
)

// CallNoticePayload is the body of call-accepted, call-rejected, call-ended,
// call-missed and call-cancelled. Caller is only set on call-missed.
type CallNoticePayload struct {
	CallID     string  `json:"callId"`
	FromUserID string  `json:"fromUserId,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Caller     *Caller `json:"caller,omitempty"`
}

type OfferPayload struct {
	TargetUserID string                    `json:"targetUserId,omitempty"`
	FromUserID   string                    `json:"fromUserId,omitempty"`
	Offer        webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	TargetUserID string                    `json:"targetUserId,omitempty"`
	FromUserID   string                    `json:"fromUserId,omitempty"`
	Answer       webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	TargetUserID string                  `json:"targetUserId,omitempty"`
	FromUserID   string                  `json:"fromUserId,omitempty"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// Gesture data types.
const (
	GestureTypeGesture  = "gesture"
	GestureTypeSentence = "sentence"
)

type GestureData struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type GesturePayload struct {
	TargetUserID string      `json:"targetUserId,omitempty"`
	FromUserID   string      `json:"fromUserId,omitempty"`
	GestureData  GestureData `json:"gestureData"`
}

type MessageData struct {
	Text string `json:"text"`
}

type SpeechPayload struct {
	TargetUserID string      `json:"targetUserId,omitempty"`
	FromUserID   string      `json:"fromUserId,omitempty"`
	MessageData  MessageData `json:"messageData"`
}

// Targeted reports whether event is forwarded peer to peer by the relay.
func (e Event) Targeted() bool {
	switch e {
	case EventOffer, EventAnswer, EventICECandidate, EventGestureData, EventSpeechMessage:
		return true
	}
	return false
}
