package webrtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/stretchr/testify/require"
)

// pipeSignaler delivers one side's signals to the other negotiator, in order,
// on its own goroutine.
type pipeSignaler struct {
	remote func() *Negotiator
	queue  chan func(*Negotiator)
}

func newPipeSignaler(remote func() *Negotiator) *pipeSignaler {
	s := &pipeSignaler{remote: remote, queue: make(chan func(*Negotiator), 64)}
	go func() {
		for fn := range s.queue {
			fn(s.remote())
		}
	}()
	return s
}

func (s *pipeSignaler) SendOffer(offer webrtc.SessionDescription) {
	s.queue <- func(n *Negotiator) { n.HandleOffer(offer) }
}

func (s *pipeSignaler) SendAnswer(answer webrtc.SessionDescription) {
	s.queue <- func(n *Negotiator) { n.HandleAnswer(answer) }
}

func (s *pipeSignaler) SendICECandidate(candidate webrtc.ICECandidateInit) {
	s.queue <- func(n *Negotiator) { n.HandleICECandidate(candidate) }
}

func TestNegotiator_LoopbackHandshake(t *testing.T) {
	skipNetworkTest(t)
	ci := getCIConfig()

	api, err := NewWebRTCAPI()
	require.NoError(t, err)

	var initiator, receiver *Negotiator
	toReceiver := newPipeSignaler(func() *Negotiator { return receiver })
	toInitiator := newPipeSignaler(func() *Negotiator { return initiator })
	defer close(toReceiver.queue)
	defer close(toInitiator.queue)

	receiver, err = NewNegotiator(NegotiatorConfig{CallID: "loop", Role: call.RoleReceiver}, api, toInitiator)
	require.NoError(t, err)
	defer receiver.Close()
	initiator, err = NewNegotiator(NegotiatorConfig{CallID: "loop", Role: call.RoleInitiator}, api, toReceiver)
	require.NoError(t, err)
	defer initiator.Close()

	connected := make(chan string, 2)
	initiator.Subscribe(func(e Event) {
		if _, ok := e.(ConnectedEvent); ok {
			connected <- "initiator"
		}
	})
	receiver.Subscribe(func(e Event) {
		if _, ok := e.(ConnectedEvent); ok {
			connected <- "receiver"
		}
	})

	ctx := context.Background()
	require.NoError(t, receiver.Start(ctx))
	require.NoError(t, initiator.Start(ctx))

	timeout := time.After(ci.AdjustTimeout(15 * time.Second))
	for i := 0; i < 2; i++ {
		select {
		case side := <-connected:
			t.Logf("%s connected", side)
		case <-timeout:
			t.Fatalf("peers did not connect: initiator=%+v receiver=%+v", initiator.State(), receiver.State())
		}
	}
	require.Equal(t, HintStable, initiator.State().Hint)
	require.Equal(t, HintStable, receiver.State().Hint)
	require.NotNil(t, initiator.Stats())
}
