package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var errNoRemoteDescription = errors.New("remote description is not set")

type fakePeer struct {
	mu           sync.Mutex
	offerOpts    []*webrtc.OfferOptions
	answers      int
	local        []webrtc.SessionDescription
	remote       []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	earlyApplied int
	hasRemote    bool
	tracks       []webrtc.TrackLocal
	dataChannels []*fakeDataChannel
	closed       bool
	failOffer    error
	failAnswer   error

	onConn  func(webrtc.PeerConnectionState)
	onICE   func(webrtc.ICEConnectionState)
	onCand  func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onDC    func(DataChannel)
}

func (p *fakePeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOffer != nil {
		return webrtc.SessionDescription{}, p.failOffer
	}
	p.offerOpts = append(p.offerOpts, options)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", len(p.offerOpts))}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAnswer != nil {
		return webrtc.SessionDescription{}, p.failAnswer
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.answers)}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	p.hasRemote = true
	return nil
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasRemote {
		p.earlyApplied++
		return errNoRemoteDescription
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil, nil
}

func (p *fakePeer) GetSenders() []*webrtc.RTPSender { return nil }

func (p *fakePeer) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (p *fakePeer) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &fakeDataChannel{label: label, state: webrtc.DataChannelStateConnecting}
	p.dataChannels = append(p.dataChannels, dc)
	return dc, nil
}

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { p.onTrack = f }
func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.onConn = f
}
func (p *fakePeer) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	p.onICE = f
}
func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) { p.onCand = f }
func (p *fakePeer) OnDataChannel(f func(DataChannel))           { p.onDC = f }

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Offers() []*webrtc.OfferOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*webrtc.OfferOptions(nil), p.offerOpts...)
}

func (p *fakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) Local() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.local...)
}

func (p *fakePeer) Remote() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	peer *fakePeer
	err  error
}

func (f *fakeFactory) NewPeerConnection(Config) (PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.peer, nil
}

type fakeDataChannel struct {
	mu        sync.Mutex
	label     string
	state     webrtc.DataChannelState
	onOpen    func()
	onMessage func(webrtc.DataChannelMessage)
	sent      []string
	closed    bool
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDataChannel) OnOpen(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = f
}

func (d *fakeDataChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = f
}

func (d *fakeDataChannel) SendText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, s)
	return nil
}

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.state = webrtc.DataChannelStateClosed
	return nil
}

func (d *fakeDataChannel) open() {
	d.mu.Lock()
	d.state = webrtc.DataChannelStateOpen
	f := d.onOpen
	d.mu.Unlock()
	f()
}

func (d *fakeDataChannel) deliver(text string) {
	d.mu.Lock()
	f := d.onMessage
	d.mu.Unlock()
	f(webrtc.DataChannelMessage{IsString: true, Data: []byte(text)})
}

func (d *fakeDataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

type fakeSignaler struct {
	mu         sync.Mutex
	offers     []webrtc.SessionDescription
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
}

func (s *fakeSignaler) SendOffer(offer webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, offer)
}

func (s *fakeSignaler) SendAnswer(answer webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, answer)
}

func (s *fakeSignaler) SendICECandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidate)
}

func (s *fakeSignaler) Offers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func (s *fakeSignaler) Answers() []webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), s.answers...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func countOf[T Event](l *eventLog) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func firstOf[T Event](l *eventLog) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

type stubMedia struct {
	stopped bool
}

func (m *stubMedia) Tracks() []webrtc.TrackLocal { return nil }
func (m *stubMedia) Stop()                       { m.stopped = true }
