package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// Signaler is an interface that decouples the WebRTC logic from the signaling transport.
// Sends are best effort; the application layer decides how they reach the remote peer.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription)
	SendAnswer(answer webrtc.SessionDescription)
	SendICECandidate(candidate webrtc.ICECandidateInit)
}
