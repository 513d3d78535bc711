package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/signbridge/pkg/signaling"
	sbwebrtc "github.com/rescp17/signbridge/pkg/webrtc"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	dialErr   error
	connected bool
	sent      []signaling.Envelope
	in        chan signaling.Envelope
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan signaling.Envelope, 32)}
}

func (f *fakeTransport) Dial(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return f.dialErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(env signaling.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Receive() <-chan signaling.Envelope { return f.in }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

func (f *fakeTransport) push(t *testing.T, event signaling.Event, payload any) {
	t.Helper()
	env, err := signaling.NewEnvelope(event, payload)
	require.NoError(t, err)
	f.in <- env
}

func (f *fakeTransport) sentOf(event signaling.Event) []signaling.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range f.sent {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// events lists the sent event names in order.
func (f *fakeTransport) events() []signaling.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signaling.Event, 0, len(f.sent))
	for _, env := range f.sent {
		out = append(out, env.Event)
	}
	return out
}

func decodeSent[T any](t *testing.T, env signaling.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type fakePeer struct {
	mu         sync.Mutex
	closed     bool
	offers     int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	early      int
	onConn  func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		p.early++
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (p *fakePeer) GetSenders() []*webrtc.RTPSender { return nil }

func (p *fakePeer) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (p *fakePeer) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (sbwebrtc.DataChannel, error) {
	return &idleDataChannel{label: label}, nil
}

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConn = f
}

func (p *fakePeer) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}
func (p *fakePeer) OnICECandidate(func(*webrtc.ICECandidate))                 {}
func (p *fakePeer) OnDataChannel(func(sbwebrtc.DataChannel))                   {}

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) Remote() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remote)
}

// Candidates returns the applied candidates and how many of them were
// applied before any remote description.
func (p *fakePeer) Candidates() ([]webrtc.ICECandidateInit, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...), p.early
}

func (p *fakePeer) setState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onConn
	p.mu.Unlock()
	if f != nil {
		f(state)
	}
}

func (p *fakePeer) addTrack() {
	p.mu.Lock()
	f := p.onTrack
	p.mu.Unlock()
	if f != nil {
		f(nil, nil)
	}
}

func (p *fakePeer) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onConn != nil
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeerConnection(sbwebrtc.Config) (sbwebrtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// idleDataChannel never opens.
type idleDataChannel struct {
	label string
}

func (d *idleDataChannel) Label() string { return d.label }
func (d *idleDataChannel) ReadyState() webrtc.DataChannelState {
	return webrtc.DataChannelStateConnecting
}
func (d *idleDataChannel) OnOpen(func())                           {}
func (d *idleDataChannel) OnMessage(func(webrtc.DataChannelMessage)) {}
func (d *idleDataChannel) SendText(string) error                   { return nil }
func (d *idleDataChannel) Close() error                            { return nil }

type fakeClassifier struct {
	mu      sync.Mutex
	starts  int
	stopped bool
	results chan Classification
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{results: make(chan Classification, 8)}
}

func (c *fakeClassifier) Start(ctx context.Context) (<-chan Classification, error) {
	c.mu.Lock()
	c.starts++
	c.mu.Unlock()

	out := make(chan Classification)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-c.results:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *fakeClassifier) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeClassifier) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *fakeClassifier) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
