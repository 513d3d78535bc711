package client

import (
	"log/slog"

	"github.com/rescp17/signbridge/pkg/signaling"
)

const earlyCandidateLimit = 64

// earlyPeerEvents holds the negotiation the caller of a ringing call started
// before it was accepted.
type earlyPeerEvents struct {
	callID     string
	callerID   string
	offer      *signaling.OfferPayload
	candidates []signaling.CandidatePayload
}

// earlyPeerEventsFor returns the holding area of the pending incoming call
// when fromUserID is its caller, or nil.
func (a *App) earlyPeerEventsFor(fromUserID string) *earlyPeerEvents {
	in, ok := a.coordinator.Current()
	if !ok || fromUserID == "" || fromUserID != in.Caller.ID {
		return nil
	}
	if a.early == nil || a.early.callID != in.CallID {
		a.early = &earlyPeerEvents{callID: in.CallID, callerID: in.Caller.ID}
	}
	return a.early
}

// replayEarlyPeerEvents hands what was held for active's call to its
// negotiator, offer first and candidates in arrival order.
func (a *App) replayEarlyPeerEvents(active *activeCall) {
	early := a.early
	if early == nil || early.callID != active.session.CallID {
		return
	}
	a.early = nil
	if !active.peerMatches(early.callerID) {
		return
	}
	slog.Info("Replaying peer events received while ringing",
		"callId", early.callID, "offer", early.offer != nil, "candidates", len(early.candidates))
	if early.offer != nil {
		active.negotiator.HandleOffer(early.offer.Offer)
	}
	for _, c := range early.candidates {
		active.negotiator.HandleICECandidate(c.Candidate)
	}
}

func (a *App) dropEarlyPeerEvents(callID string) {
	if a.early != nil && a.early.callID == callID {
		slog.Debug("Dropping peer events of unanswered call", "callId", callID)
		a.early = nil
	}
}
