package call

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rescp17/signbridge/pkg/metrics"
	"github.com/rescp17/signbridge/pkg/notify"
)

// Transport sends call-control events to the signaling server.
type Transport interface {
	CallUser(targetUserID, callID string) error
	AcceptCall(callID string) error
	RejectCall(callID string) error
	EndCall(callID string) error
}

// Presenter is the UI side of the call lifecycle.
type Presenter interface {
	ShowIncomingCall(call IncomingCall)
	HideIncomingCall()
	Toast(message string)
	NavigateToCall(session Session)
	InCallScreen() bool
}

// Prompter is a generic confirm/deny dialog, used for incoming calls when no
// Presenter is set.
type Prompter interface {
	Confirm(message string) bool
}

// Notification is published on every lifecycle change.
type Notification interface {
	isNotification()
}

type IncomingShown struct {
	Call IncomingCall
}

type StateChanged struct {
	Session  Session
	Previous State
}

type AutoRejected struct {
	Call IncomingCall
}

func (IncomingShown) isNotification() {}
func (StateChanged) isNotification()  {}
func (AutoRejected) isNotification()  {}

// Coordinator tracks the single pending or active call of this device and
// bridges signaling events to the Presenter.
type Coordinator struct {
	clock   clock.Clock
	metrics *metrics.Metrics
	bus     *notify.Bus[Notification]

	mu        sync.Mutex
	transport Transport
	presenter Presenter
	prompter  Prompter
	current   *IncomingCall
	handled   map[string]struct{}
	session   *Session
}

type Option func(*Coordinator)

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithPrompter(p Prompter) Option {
	return func(c *Coordinator) { c.prompter = p }
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		clock:   clock.New(),
		bus:     notify.NewBus[Notification](),
		handled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

func (c *Coordinator) SetPresenter(p Presenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenter = p
}

func (c *Coordinator) Subscribe(fn func(Notification)) (cancel func()) {
	return c.bus.Subscribe(fn)
}

// Active returns the current non-terminal session.
func (c *Coordinator) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Terminal() {
		return Session{}, false
	}
	return *c.session, true
}

// Current returns the incoming call waiting for an answer.
func (c *Coordinator) Current() (IncomingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return IncomingCall{}, false
	}
	return *c.current, true
}

func (c *Coordinator) collaborators() (Transport, Presenter, Prompter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport, c.presenter, c.prompter
}

func (c *Coordinator) HandleIncomingCall(in IncomingCall) error {
	if in.CallID == "" {
		err := &ValidationError{Field: "callId"}
		slog.Warn("Dropping incoming call", "error", err)
		return err
	}
	if in.Caller.ID == "" {
		err := &ValidationError{Field: "caller.id"}
		slog.Warn("Dropping incoming call", "callId", in.CallID, "error", err)
		return err
	}

	transport, presenter, prompter := c.collaborators()
	inCallScreen := presenter != nil && presenter.InCallScreen()

	c.mu.Lock()
	if _, ok := c.handled[in.CallID]; ok {
		c.mu.Unlock()
		slog.Debug("Ignoring duplicate incoming call", "callId", in.CallID)
		return nil
	}
	busy := inCallScreen || (c.session != nil && !c.session.Terminal())
	if busy {
		c.mu.Unlock()
		slog.Info("Auto-rejecting incoming call while busy", "callId", in.CallID, "caller", in.Caller.ID)
		if transport == nil {
			slog.Error("Cannot auto-reject incoming call", "callId", in.CallID, "error", ErrNoTransport)
		} else if err := transport.RejectCall(in.CallID); err != nil {
			slog.Warn("Failed to auto-reject incoming call", "callId", in.CallID, "error", err)
		}
		c.metrics.CallFinished("auto_rejected")
		c.bus.Publish(AutoRejected{Call: in})
		return nil
	}

	c.handled[in.CallID] = struct{}{}
	call := in
	c.current = &call
	session := Session{
		CallID:     in.CallID,
		PeerUserID: in.Caller.ID,
		Role:       RoleReceiver,
		State:      StateRinging,
		StartedAt:  c.clock.Now(),
	}
	previous := StateEnded
	if c.session != nil {
		previous = c.session.State
	}
	c.session = &session
	c.mu.Unlock()

	slog.Info("Incoming call", "callId", in.CallID, "caller", in.Caller.ID)
	c.bus.Publish(StateChanged{Session: session, Previous: previous})

	switch {
	case presenter != nil:
		presenter.ShowIncomingCall(in)
	case prompter != nil:
		go c.prompt(prompter, in)
	default:
		slog.Warn("No presenter for incoming call", "callId", in.CallID)
		return nil
	}
	c.bus.Publish(IncomingShown{Call: in})
	return nil
}

func (c *Coordinator) prompt(p Prompter, in IncomingCall) {
	msg := fmt.Sprintf("Incoming call from %s. Accept?", in.Caller.DisplayName())
	if p.Confirm(msg) {
		if err := c.AcceptCall(in); err != nil {
			slog.Warn("Failed to accept call from prompt", "callId", in.CallID, "error", err)
		}
		return
	}
	if err := c.RejectCall(in.CallID); err != nil {
		slog.Warn("Failed to reject call from prompt", "callId", in.CallID, "error", err)
	}
}

// AcceptCall answers an incoming call and moves to the in-call screen as the
// receiver.
func (c *Coordinator) AcceptCall(in IncomingCall) error {
	transport, presenter, _ := c.collaborators()
	if transport == nil {
		slog.Error("Cannot accept call", "callId", in.CallID, "error", ErrNoTransport)
		return ErrNoTransport
	}
	if err := transport.AcceptCall(in.CallID); err != nil {
		slog.Error("Failed to accept call", "callId", in.CallID, "error", err)
		return fmt.Errorf("failed to accept call %s: %w", in.CallID, err)
	}

	c.mu.Lock()
	c.current = nil
	previous := StateRinging
	if c.session != nil && c.session.CallID == in.CallID {
		previous = c.session.State
		c.session.State = StateConnecting
	} else {
		c.session = &Session{
			CallID:     in.CallID,
			PeerUserID: in.Caller.ID,
			Role:       RoleReceiver,
			State:      StateConnecting,
			StartedAt:  c.clock.Now(),
		}
	}
	session := *c.session
	c.mu.Unlock()

	slog.Info("Call accepted", "callId", in.CallID)
	c.bus.Publish(StateChanged{Session: session, Previous: previous})
	if presenter != nil {
		presenter.HideIncomingCall()
		presenter.NavigateToCall(session)
	}
	return nil
}

func (c *Coordinator) RejectCall(callID string) error {
	transport, presenter, _ := c.collaborators()
	if transport == nil {
		slog.Error("Cannot reject call", "callId", callID, "error", ErrNoTransport)
		return ErrNoTransport
	}
	err := transport.RejectCall(callID)
	if err != nil {
		slog.Warn("Failed to send reject", "callId", callID, "error", err)
	}

	c.mu.Lock()
	c.current = nil
	delete(c.handled, callID)
	session, previous, changed := c.transitionLocked(callID, StateRejected)
	c.mu.Unlock()

	if presenter != nil {
		presenter.HideIncomingCall()
	}
	if changed {
		c.metrics.CallFinished("rejected")
		c.bus.Publish(StateChanged{Session: session, Previous: previous})
	}
	if err != nil {
		return fmt.Errorf("failed to reject call %s: %w", callID, err)
	}
	return nil
}

// EndCall hangs up callID, or the active call when callID is empty, and
// forgets every handled call id.
func (c *Coordinator) EndCall(callID string) error {
	transport, presenter, _ := c.collaborators()
	if transport == nil {
		slog.Error("Cannot end call", "callId", callID, "error", ErrNoTransport)
		return ErrNoTransport
	}

	c.mu.Lock()
	if callID == "" && c.session != nil {
		callID = c.session.CallID
	}
	c.mu.Unlock()
	if callID == "" {
		return nil
	}

	err := transport.EndCall(callID)
	if err != nil {
		slog.Warn("Failed to send end", "callId", callID, "error", err)
	}

	c.mu.Lock()
	c.handled = make(map[string]struct{})
	c.current = nil
	session, previous, changed := c.transitionLocked(callID, StateEnded)
	c.mu.Unlock()

	if presenter != nil {
		presenter.HideIncomingCall()
	}
	if changed {
		slog.Info("Call ended", "callId", callID, "duration", session.Duration(c.clock.Now()))
		c.metrics.CallFinished("ended")
		c.bus.Publish(StateChanged{Session: session, Previous: previous})
	}
	if err != nil {
		return fmt.Errorf("failed to end call %s: %w", callID, err)
	}
	return nil
}

func (c *Coordinator) HandleMissedCallNotification(m MissedCall) {
	_, presenter, _ := c.collaborators()

	c.mu.Lock()
	c.current = nil
	session, previous, changed := c.transitionLocked(m.CallID, StateMissed)
	c.mu.Unlock()

	if presenter != nil {
		presenter.HideIncomingCall()
		presenter.Toast(fmt.Sprintf("Missed call from %s", m.Caller.DisplayName()))
	} else {
		slog.Info("Missed call", "callId", m.CallID, "caller", m.Caller.DisplayName())
	}
	if changed {
		c.metrics.CallFinished("missed")
		c.bus.Publish(StateChanged{Session: session, Previous: previous})
	}
}

func (c *Coordinator) HandleCallCancellation(callID string) {
	_, presenter, _ := c.collaborators()

	c.mu.Lock()
	c.current = nil
	session, previous, changed := c.transitionLocked(callID, StateCancelled)
	c.mu.Unlock()

	if presenter != nil {
		presenter.HideIncomingCall()
	}
	if changed {
		slog.Info("Call cancelled by caller", "callId", callID)
		c.metrics.CallFinished("cancelled")
		c.bus.Publish(StateChanged{Session: session, Previous: previous})
	}
}

// StartCall places an outgoing call to peerUserID.
func (c *Coordinator) StartCall(peerUserID string) (Session, error) {
	if peerUserID == "" {
		return Session{}, &ValidationError{Field: "targetUserId"}
	}
	transport, presenter, _ := c.collaborators()
	if transport == nil {
		slog.Error("Cannot start call", "peer", peerUserID, "error", ErrNoTransport)
		return Session{}, ErrNoTransport
	}

	c.mu.Lock()
	if c.session != nil && !c.session.Terminal() {
		c.mu.Unlock()
		return Session{}, ErrCallInProgress
	}
	session := Session{
		CallID:     uuid.NewString(),
		PeerUserID: peerUserID,
		Role:       RoleInitiator,
		State:      StateCalling,
		StartedAt:  c.clock.Now(),
	}
	c.session = &session
	c.mu.Unlock()

	if err := transport.CallUser(peerUserID, session.CallID); err != nil {
		c.mu.Lock()
		ended, previous, _ := c.transitionLocked(session.CallID, StateEnded)
		c.mu.Unlock()
		c.bus.Publish(StateChanged{Session: ended, Previous: previous})
		return Session{}, fmt.Errorf("failed to call %s: %w", peerUserID, err)
	}

	slog.Info("Calling", "callId", session.CallID, "peer", peerUserID)
	c.bus.Publish(StateChanged{Session: session, Previous: StateEnded})
	if presenter != nil {
		presenter.NavigateToCall(session)
	}
	return session, nil
}

// HandleCallAccepted moves an outgoing call to Connecting.
func (c *Coordinator) HandleCallAccepted(callID string) {
	c.mu.Lock()
	if c.session == nil || c.session.CallID != callID || c.session.State != StateCalling {
		c.mu.Unlock()
		slog.Debug("Ignoring call-accepted", "callId", callID)
		return
	}
	c.session.State = StateConnecting
	session := *c.session
	c.mu.Unlock()

	slog.Info("Call accepted by peer", "callId", callID)
	c.bus.Publish(StateChanged{Session: session, Previous: StateCalling})
}

func (c *Coordinator) HandleRemoteRejected(callID, reason string) {
	_, presenter, _ := c.collaborators()

	c.mu.Lock()
	session, previous, changed := c.transitionLocked(callID, StateRejected)
	c.mu.Unlock()
	if !changed {
		return
	}

	c.metrics.CallFinished("rejected")
	c.bus.Publish(StateChanged{Session: session, Previous: previous})
	if presenter != nil {
		presenter.Toast(rejectionMessage(reason))
	}
}

func rejectionMessage(reason string) string {
	switch reason {
	case "unavailable":
		return "User is unavailable"
	case "no-answer":
		return "No answer"
	default:
		return "Call was declined"
	}
}

// HandleRemoteEnded reacts to the peer hanging up. It reports whether the
// active session was affected.
func (c *Coordinator) HandleRemoteEnded(callID string) bool {
	_, presenter, _ := c.collaborators()

	c.mu.Lock()
	session, previous, changed := c.transitionLocked(callID, StateEnded)
	if changed {
		c.handled = make(map[string]struct{})
		c.current = nil
	}
	c.mu.Unlock()
	if !changed {
		return false
	}

	slog.Info("Call ended by peer", "callId", callID)
	c.metrics.CallFinished("ended")
	c.bus.Publish(StateChanged{Session: session, Previous: previous})
	if presenter != nil {
		presenter.HideIncomingCall()
		presenter.Toast("Call ended")
	}
	return true
}

// MarkConnected records that media connectivity was established. Only the
// first call for a session sets ConnectedAt.
func (c *Coordinator) MarkConnected(callID string) (Session, bool) {
	c.mu.Lock()
	if c.session == nil || c.session.CallID != callID || c.session.Terminal() {
		c.mu.Unlock()
		return Session{}, false
	}
	if c.session.State == StateConnected {
		session := *c.session
		c.mu.Unlock()
		return session, false
	}
	previous := c.session.State
	c.session.State = StateConnected
	c.session.ConnectedAt = c.clock.Now()
	session := *c.session
	c.mu.Unlock()

	c.bus.Publish(StateChanged{Session: session, Previous: previous})
	return session, true
}

// transitionLocked moves the session for callID to a terminal state. It is a
// no-op for unknown ids and sessions that already ended.
func (c *Coordinator) transitionLocked(callID string, to State) (Session, State, bool) {
	if c.session == nil || c.session.CallID != callID || c.session.Terminal() {
		return Session{}, 0, false
	}
	previous := c.session.State
	c.session.State = to
	return *c.session, previous, true
}
