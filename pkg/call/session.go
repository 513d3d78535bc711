package call

import (
	"fmt"
	"time"
)

type Role int

const (
	RoleInitiator Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State is the lifecycle state of a call attempt.
type State int

const (
	StateCalling State = iota
	StateRinging
	StateConnecting
	StateConnected
	StateMissed
	StateRejected
	StateCancelled
	StateEnded
)

var stateNames = map[State]string{
	StateCalling:    "calling",
	StateRinging:    "ringing",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateMissed:     "missed",
	StateRejected:   "rejected",
	StateCancelled:  "cancelled",
	StateEnded:      "ended",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	return s >= StateMissed
}

// Session identifies one call attempt.
type Session struct {
	CallID      string
	PeerUserID  string
	Role        Role
	State       State
	StartedAt   time.Time
	ConnectedAt time.Time
}

func (s Session) Terminal() bool {
	return s.State.Terminal()
}

// Duration is the whole number of seconds since the call connected, or zero
// when it is not connected.
func (s Session) Duration(now time.Time) time.Duration {
	if s.State != StateConnected || s.ConnectedAt.IsZero() || now.Before(s.ConnectedAt) {
		return 0
	}
	return now.Sub(s.ConnectedAt).Truncate(time.Second)
}

type Caller struct {
	ID    string
	Name  string
	Photo string
}

// DisplayName falls back to the id when the caller has no name.
func (c Caller) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

type IncomingCall struct {
	CallID string
	Caller Caller
}

type MissedCall struct {
	CallID string
	Caller Caller
}
