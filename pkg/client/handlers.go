package client

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/signaling"
)

// on decodes event bodies into T and hands them to the event loop.
func on[T any](a *App, event signaling.Event, fn func(T)) {
	a.channel.On(event, func(data json.RawMessage) {
		payload, err := signaling.Decode[T](data)
		if err != nil {
			slog.Warn("Dropping malformed signaling event", "event", event, "error", err)
			return
		}
		a.post(func(context.Context) { fn(payload) })
	})
}

func (a *App) registerHandlers() {
	on(a, signaling.EventIncomingCall, func(p signaling.IncomingCallPayload) {
		_ = a.coordinator.HandleIncomingCall(call.IncomingCall{
			CallID: p.CallID,
			Caller: call.Caller{ID: p.Caller.ID, Name: p.Caller.Name, Photo: p.Caller.Photo},
		})
	})
	on(a, signaling.EventCallAccepted, func(p signaling.CallNoticePayload) {
		a.coordinator.HandleCallAccepted(p.CallID)
	})
	on(a, signaling.EventCallRejected, func(p signaling.CallNoticePayload) {
		a.coordinator.HandleRemoteRejected(p.CallID, p.Reason)
	})
	on(a, signaling.EventCallEnded, func(p signaling.CallNoticePayload) {
		a.coordinator.HandleRemoteEnded(p.CallID)
	})
	on(a, signaling.EventCallCancelled, func(p signaling.CallNoticePayload) {
		a.coordinator.HandleCallCancellation(p.CallID)
	})
	on(a, signaling.EventCallMissed, func(p signaling.CallNoticePayload) {
		missed := call.MissedCall{CallID: p.CallID}
		if p.Caller != nil {
			missed.Caller = call.Caller{ID: p.Caller.ID, Name: p.Caller.Name, Photo: p.Caller.Photo}
		}
		a.coordinator.HandleMissedCallNotification(missed)
	})

	on(a, signaling.EventOffer, a.handleOffer)
	on(a, signaling.EventAnswer, a.handleAnswer)
	on(a, signaling.EventICECandidate, a.handleCandidate)
	on(a, signaling.EventGestureData, a.handleGesture)
	on(a, signaling.EventSpeechMessage, a.handleSpeech)
}
