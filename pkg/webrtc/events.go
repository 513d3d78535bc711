package webrtc

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrSetupFailed wraps offer and answer failures that abort a call.
	ErrSetupFailed = errors.New("call setup failed")
	// ErrConnectivityLost is reported when the peer connection did not
	// recover within its grace period.
	ErrConnectivityLost = errors.New("connection to the other party was lost")
	ErrNegotiatorClosed = errors.New("negotiator is closed")
	ErrAlreadyStarted   = errors.New("negotiator already started")
)

// Event is published by a Negotiator to its subscribers.
type Event interface {
	isNegotiationEvent()
}

// ConnectedEvent is published once per call, on the first connected state.
type ConnectedEvent struct {
	CallID string
	At     time.Time
}

type DurationEvent struct {
	CallID  string
	Elapsed time.Duration
}

type TrackEvent struct {
	CallID string
	Kind   webrtc.RTPCodecType
	Track  *webrtc.TrackRemote
}

type ICERestartEvent struct {
	CallID  string
	Attempt int
	Reason  webrtc.ICEConnectionState
}

type SetupFailedEvent struct {
	CallID string
	Err    error
}

type FatalErrorEvent struct {
	CallID string
	Err    error
}

func (ConnectedEvent) isNegotiationEvent()   {}
func (DurationEvent) isNegotiationEvent()    {}
func (TrackEvent) isNegotiationEvent()       {}
func (ICERestartEvent) isNegotiationEvent()  {}
func (SetupFailedEvent) isNegotiationEvent() {}
func (FatalErrorEvent) isNegotiationEvent()  {}
