package webrtc

import (
	"fmt"
	"log"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the negotiator
// drives. It is satisfied by the pion adapter and by fakes in tests.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	GetSenders() []*webrtc.RTPSender
	GetStats() webrtc.StatsReport
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (DataChannel, error)

	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnDataChannel(f func(DataChannel))

	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// DataChannel is satisfied by *webrtc.DataChannel.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	OnOpen(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	SendText(s string) error
	Close() error
}

// PeerFactory builds a peer connection for one call.
type PeerFactory interface {
	NewPeerConnection(config Config) (PeerConnection, error)
}

const (
	MTU uint = 1400

	DefaultSTUNServer = "stun:stun.l.google.com:19302"
)

// Config holds the configuration for creating a new peer connection.
type Config struct {
	ICEServers []webrtc.ICEServer
}

type WebRTCAPI struct {
	api *webrtc.API
}

var _ PeerFactory = (*WebRTCAPI)(nil)

func NewWebRTCAPI() (*WebRTCAPI, error) {
	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	settings.SetReceiveMTU(MTU)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	// One API per process; every call's peer connection comes from it.
	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settings),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &WebRTCAPI{api: api}, nil
}

func (a *WebRTCAPI) NewPeerConnection(config Config) (PeerConnection, error) {
	if len(config.ICEServers) == 0 {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
			URLs: []string{DefaultSTUNServer},
		})
	}
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		log.Printf("[NewPeerConnection] %v", err)
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeer{PeerConnection: pc}, nil
}

// pionPeer adapts *webrtc.PeerConnection to PeerConnection. Only the data
// channel methods differ in signature.
type pionPeer struct {
	*webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string, options *webrtc.DataChannelInit) (DataChannel, error) {
	dc, err := p.PeerConnection.CreateDataChannel(label, options)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (p *pionPeer) OnDataChannel(f func(DataChannel)) {
	p.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(dc)
	})
}

func (p *pionPeer) Close() error {
	log.Printf("Closing webrtc connection")
	return p.PeerConnection.Close()
}
