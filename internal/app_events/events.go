package appevents

import (
	"time"

	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/gesture"
)

// AppEvent is a marker interface for events sent from the TUI to the App's logic controller.
// It uses an unexported method to ensure that only types from this package (by embedding Event)
// can satisfy the interface, providing compile-time safety.
type AppEvent interface {
	isAppEvent()
}

// Event is a struct that can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

// isAppEvent is the marker method that makes a struct an AppEvent.
func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the App's logic controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is a base struct that can be embedded in other types to implement the AppUIMessage interface.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// --- App Events (from TUI to App) ---

type StartCall struct {
	Event
	PeerUserID string
}

type AcceptCall struct {
	Event
	CallID string
}

type RejectCall struct {
	Event
	CallID string
}

// EndCall hangs up the active call.
type EndCall struct {
	Event
}

// AcknowledgeError dismisses the fatal connectivity dialog, which ends the call.
type AcknowledgeError struct {
	Event
}

type SendSpeech struct {
	Event
	Text string
}

// Classification is a classifier result typed in by hand.
type Classification struct {
	Event
	Label string
	Score float64
}

var (
	_ AppEvent = (*StartCall)(nil)
	_ AppEvent = (*AcceptCall)(nil)
	_ AppEvent = (*RejectCall)(nil)
	_ AppEvent = (*EndCall)(nil)
	_ AppEvent = (*AcknowledgeError)(nil)
	_ AppEvent = (*SendSpeech)(nil)
	_ AppEvent = (*Classification)(nil)
)

// --- UI Messages (from App to TUI) ---

// ConnectedMsg reports that the signaling channel is up.
type ConnectedMsg struct {
	UIMessage
	UserID string
}

type IncomingCallMsg struct {
	UIMessage
	Call call.IncomingCall
}

type HidePromptMsg struct {
	UIMessage
}

type ToastMsg struct {
	UIMessage
	Text string
}

// NavigateMsg switches the TUI to the in-call screen.
type NavigateMsg struct {
	UIMessage
	Session call.Session
}

type CallStateMsg struct {
	UIMessage
	Session call.Session
}

type DurationMsg struct {
	UIMessage
	Elapsed time.Duration
}

type ReconnectingMsg struct {
	UIMessage
	Attempt int
}

type GestureMsg struct {
	UIMessage
	Source gesture.Source
	Word   string
}

type SentenceMsg struct {
	UIMessage
	Sentence gesture.Sentence
	Replaced bool
}

type SpeechMsg struct {
	UIMessage
	Source gesture.Source
	Text   string
}

// FatalErrorMsg asks the user to acknowledge a lost connection.
type FatalErrorMsg struct {
	UIMessage
	Err error
}

// Error is a recoverable error shown to the user.
type Error struct {
	UIMessage
	Err error
}

var (
	_ AppUIMessage = (*ConnectedMsg)(nil)
	_ AppUIMessage = (*IncomingCallMsg)(nil)
	_ AppUIMessage = (*HidePromptMsg)(nil)
	_ AppUIMessage = (*ToastMsg)(nil)
	_ AppUIMessage = (*NavigateMsg)(nil)
	_ AppUIMessage = (*CallStateMsg)(nil)
	_ AppUIMessage = (*DurationMsg)(nil)
	_ AppUIMessage = (*ReconnectingMsg)(nil)
	_ AppUIMessage = (*GestureMsg)(nil)
	_ AppUIMessage = (*SentenceMsg)(nil)
	_ AppUIMessage = (*SpeechMsg)(nil)
	_ AppUIMessage = (*FatalErrorMsg)(nil)
	_ AppUIMessage = (*Error)(nil)
)
