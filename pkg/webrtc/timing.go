package webrtc

import (
	"errors"
	"time"
)

// Timing holds the grace periods of the connection and ICE monitors.
type Timing struct {
	// DisconnectGrace is how long a disconnected peer may take to recover
	// before the call is considered lost.
	DisconnectGrace time.Duration
	// FailedGrace is how long a failed peer connection is given before the
	// failure is reported.
	FailedGrace time.Duration
	// ICEDisconnectGrace and ICEFailedGrace delay the ICE restart.
	ICEDisconnectGrace time.Duration
	ICEFailedGrace     time.Duration
	KeepaliveInterval  time.Duration
	DurationTick       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		DisconnectGrace:    30 * time.Second,
		FailedGrace:        5 * time.Second,
		ICEDisconnectGrace: 10 * time.Second,
		ICEFailedGrace:     2 * time.Second,
		KeepaliveInterval:  5 * time.Second,
		DurationTick:       time.Second,
	}
}

func (t Timing) Validate() error {
	if t.DisconnectGrace <= 0 {
		return errors.New("disconnect grace must be positive")
	}
	if t.FailedGrace <= 0 {
		return errors.New("failed grace must be positive")
	}
	if t.ICEDisconnectGrace <= 0 {
		return errors.New("ice disconnect grace must be positive")
	}
	if t.ICEFailedGrace <= 0 {
		return errors.New("ice failed grace must be positive")
	}
	if t.KeepaliveInterval <= 0 {
		return errors.New("keepalive interval must be positive")
	}
	if t.DurationTick <= 0 {
		return errors.New("duration tick must be positive")
	}
	return nil
}
