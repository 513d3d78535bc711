package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/signbridge/internal/app_events"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/concurrency"
	"github.com/rescp17/signbridge/pkg/config"
	"github.com/rescp17/signbridge/pkg/gesture"
	"github.com/rescp17/signbridge/pkg/metrics"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/rescp17/signbridge/pkg/webrtc"
	"golang.org/x/sync/errgroup"
)

// MediaProvider returns the local media for a call. It may return nil for a
// call without local tracks.
type MediaProvider func(callID string) (webrtc.MediaSource, error)

type Option func(*App)

func WithClock(clk clock.Clock) Option {
	return func(a *App) { a.clock = clk }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

func WithPeerFactory(f webrtc.PeerFactory) Option {
	return func(a *App) { a.peers = f }
}

func WithMediaProvider(p MediaProvider) Option {
	return func(a *App) { a.media = p }
}

func WithGenerator(g gesture.SentenceGenerator) Option {
	return func(a *App) { a.generator = g }
}

func WithClassifier(c Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// App is the main application logic controller of the call client. All call
// state is owned by the event loop in Run; signaling handlers and negotiator
// callbacks post work to it through the inbox.
type App struct {
	cfg         *config.Config
	clock       clock.Clock
	metrics     *metrics.Metrics
	guard       *concurrency.ConcurrencyGuard
	channel     *signaling.Channel
	coordinator *call.Coordinator
	peers       webrtc.PeerFactory
	media       MediaProvider
	generator   gesture.SentenceGenerator
	classifier  Classifier
	sequence    *gesture.Sequence

	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	inbox      chan func(ctx context.Context)
	done       chan struct{}
	stopped    atomic.Bool

	inCall atomic.Bool
	active *activeCall
	early  *earlyPeerEvents
	runCtx context.Context
}

// NewApp wires a client on top of transport. The peer factory defaults to
// the pion-backed WebRTCAPI.
func NewApp(cfg *config.Config, transport signaling.Transport, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{
		cfg:        cfg,
		clock:      clock.New(),
		guard:      concurrency.NewConcurrencyGuard(),
		sequence:   gesture.NewSequence(),
		uiMessages: make(chan tea.Msg, 64),
		appEvents:  make(chan appevents.AppEvent, 16),
		inbox:      make(chan func(ctx context.Context), 64),
		done:       make(chan struct{}),
		runCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	if a.peers == nil {
		api, err := webrtc.NewWebRTCAPI()
		if err != nil {
			return nil, fmt.Errorf("failed to create webrtc api: %w", err)
		}
		a.peers = api
	}
	if a.generator == nil && cfg.GeneratorEnabled() {
		a.generator = gesture.NewHTTPGenerator(cfg.Generator)
	}

	a.channel = signaling.NewChannel(transport, signaling.WithMetrics(a.metrics))
	a.coordinator = call.NewCoordinator(call.WithClock(a.clock), call.WithMetrics(a.metrics))
	a.coordinator.SetTransport(callTransport{channel: a.channel})
	a.coordinator.SetPresenter(a)
	a.coordinator.Subscribe(a.onCallNotification)
	a.registerHandlers()
	return a, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

func (a *App) Coordinator() *call.Coordinator { return a.coordinator }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Run connects to the signaling relay and runs the event loop until ctx is
// cancelled or the signaling connection is lost for good.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runSignaling(ctx)
	})

	g.Go(func() error {
		defer a.stop()
		a.runCtx = ctx
		for {
			select {
			case <-ctx.Done():
				a.teardown()
				if err := a.channel.Close(); err != nil {
					slog.Warn("Failed to close signaling channel", "error", err)
				}
				return nil
			case event := <-a.appEvents:
				a.handleAppEvent(ctx, event)
			case fn := <-a.inbox:
				fn(ctx)
			}
		}
	})
	return g.Wait()
}

func (a *App) runSignaling(ctx context.Context) error {
	if err := a.channel.Connect(ctx, a.cfg.Token); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		a.sendAndLogError("Failed to connect to signaling server", err)
		return err
	}
	slog.Info("Signaling connected", "userId", a.channel.UserID())
	a.notifyUI(appevents.ConnectedMsg{UserID: a.channel.UserID()})

	select {
	case <-ctx.Done():
		return nil
	case <-a.channel.Done():
		if ctx.Err() != nil {
			return nil
		}
		a.sendAndLogError("Signaling connection lost", signaling.ErrNotConnected)
		return signaling.ErrNotConnected
	}
}

func (a *App) handleAppEvent(ctx context.Context, event appevents.AppEvent) {
	switch e := event.(type) {
	case appevents.StartCall:
		if _, err := a.coordinator.StartCall(e.PeerUserID); err != nil {
			a.sendAndLogError("Failed to start call", err)
		}
	case appevents.AcceptCall:
		in, ok := a.coordinator.Current()
		if !ok || in.CallID != e.CallID {
			slog.Warn("No pending call to accept", "callId", e.CallID)
			return
		}
		if err := a.coordinator.AcceptCall(in); err != nil {
			a.sendAndLogError("Failed to accept call", err)
		}
	case appevents.RejectCall:
		if err := a.coordinator.RejectCall(e.CallID); err != nil {
			slog.Warn("Reject did not reach the server", "callId", e.CallID, "error", err)
		}
	case appevents.EndCall:
		a.endCall()
	case appevents.AcknowledgeError:
		if a.active != nil && a.active.fatal {
			a.endCall()
		}
	case appevents.SendSpeech:
		if a.active != nil {
			a.active.relay.SendSpeech(e.Text)
		}
	case appevents.Classification:
		a.observeLocal(e.Label, e.Score)
	default:
		slog.Warn("Unhandled app event", "type", fmt.Sprintf("%T", event))
	}
}

// post hands fn to the event loop. It gives up once the loop has exited.
func (a *App) post(fn func(ctx context.Context)) {
	select {
	case a.inbox <- fn:
	case <-a.done:
	}
}

func (a *App) notifyUI(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-a.done:
	}
}

func (a *App) stop() {
	if a.stopped.CompareAndSwap(false, true) {
		close(a.done)
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.notifyUI(appevents.Error{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
