package gesture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rescp17/signbridge/pkg/metrics"
	"github.com/rescp17/signbridge/pkg/notify"
	"github.com/rescp17/signbridge/pkg/signaling"
)

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Method records how a sentence text was produced.
type Method string

const (
	MethodGenerated Method = "generated"
	MethodFallback  Method = "fallback"
	MethodRelayed   Method = "relayed"
)

type Sentence struct {
	Number int
	Text   string
	Words  []string
	Source Source
	Method Method
	At     time.Time
}

func (s Sentence) String() string {
	return fmt.Sprintf("%d. %s", s.Number, s.Text)
}

// SentenceGenerator turns ordered words into a natural sentence. It may fail.
type SentenceGenerator interface {
	GenerateSentence(ctx context.Context, words []string) (string, error)
}

// Sender relays gesture and speech payloads to the peer.
type Sender interface {
	SendGesture(data signaling.GestureData)
	SendSpeech(text string)
}

// Sequence numbers sentences for the lifetime of the process, one counter
// per source.
type Sequence struct {
	local  atomic.Int64
	remote atomic.Int64
}

func NewSequence() *Sequence { return &Sequence{} }

func (s *Sequence) Next(source Source) int {
	if source == SourceRemote {
		return int(s.remote.Add(1))
	}
	return int(s.local.Add(1))
}

type RelayConfig struct {
	Stream            StreamConfig
	GenerationTimeout time.Duration
	// ReconcileWindow is how long a sentence rebuilt from relayed gestures
	// may still be replaced by the peer's own sentence.
	ReconcileWindow time.Duration
	HistorySize     int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Stream:            DefaultStreamConfig(),
		GenerationTimeout: 5 * time.Second,
		ReconcileWindow:   5 * time.Second,
		HistorySize:       10,
	}
}

func (c RelayConfig) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("generation timeout must be positive")
	}
	if c.ReconcileWindow < 0 {
		return errors.New("reconcile window must not be negative")
	}
	if c.HistorySize <= 0 {
		return errors.New("history size must be positive")
	}
	return nil
}

// Update is published by a Relay.
type Update interface {
	isUpdate()
}

type WordEvent struct {
	Source Source
	Word   string
}

type SentenceEvent struct {
	Sentence Sentence
	// Replaced is set when the sentence overwrote an earlier entry with the
	// same number.
	Replaced bool
}

type SpeechEvent struct {
	Source Source
	Text   string
}

func (WordEvent) isUpdate()     {}
func (SentenceEvent) isUpdate() {}
func (SpeechEvent) isUpdate()   {}

type RelayOption func(*Relay)

func WithClock(clk clock.Clock) RelayOption {
	return func(r *Relay) { r.clock = clk }
}

func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithGenerator(g SentenceGenerator) RelayOption {
	return func(r *Relay) { r.generator = g }
}

// Relay runs the local and the remote gesture pipelines of one call.
type Relay struct {
	callID    string
	cfg       RelayConfig
	clock     clock.Clock
	metrics   *metrics.Metrics
	generator SentenceGenerator
	sender    Sender
	connected func() bool
	seq       *Sequence
	bus       *notify.Bus[Update]

	local  *Stream
	remote *Stream

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	history       map[Source][]Sentence
	reconstructed *Sentence
	closed        bool
}

// NewRelay creates the pipelines for callID. connected reports whether the
// call is connected; sentences are only relayed while it is.
func NewRelay(callID string, cfg RelayConfig, seq *Sequence, sender Sender, connected func() bool, opts ...RelayOption) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seq == nil {
		seq = NewSequence()
	}
	if connected == nil {
		connected = func() bool { return false }
	}
	r := &Relay{
		callID:    callID,
		cfg:       cfg,
		clock:     clock.New(),
		sender:    sender,
		connected: connected,
		seq:       seq,
		bus:       notify.NewBus[Update](),
		history:   make(map[Source][]Sentence),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.local = NewStream(cfg.Stream, r.clock, StreamHandlers{
		OnWord:     r.onLocalWord,
		OnFinalize: r.onLocalFinalized,
	})
	// The peer already smoothed its labels.
	remoteCfg := cfg.Stream
	remoteCfg.WindowSize = 1
	r.remote = NewStream(remoteCfg, r.clock, StreamHandlers{
		OnWord:     r.onRemoteWord,
		OnFinalize: r.onRemoteFinalized,
	})
	return r, nil
}

func (r *Relay) Subscribe(fn func(Update)) (cancel func()) {
	return r.bus.Subscribe(fn)
}

// ObserveLocal feeds one local classification.
func (r *Relay) ObserveLocal(label string, score float64) string {
	return r.local.Observe(label, score)
}

func (r *Relay) onLocalWord(word string) {
	r.bus.Publish(WordEvent{Source: SourceLocal, Word: word})
	if r.sender != nil && r.connected() {
		r.sender.SendGesture(signaling.GestureData{Text: word, Type: signaling.GestureTypeGesture})
	}
}

func (r *Relay) onLocalFinalized(f Finalized) {
	number := r.seq.Next(SourceLocal)
	text, method := r.generate(f.Words)

	sentence := Sentence{
		Number: number,
		Text:   text,
		Words:  f.Words,
		Source: SourceLocal,
		Method: method,
		At:     f.At,
	}
	if !r.record(sentence, false) {
		return
	}
	slog.Info("Sentence finalized", "callId", r.callID, "source", SourceLocal, "trigger", f.Trigger, "method", method, "sentence", sentence.String())
	r.metrics.Sentence(string(SourceLocal), string(method))
	r.bus.Publish(SentenceEvent{Sentence: sentence})

	if r.sender != nil && r.connected() {
		r.sender.SendGesture(signaling.GestureData{Text: text, Type: signaling.GestureTypeSentence})
	}
}

// generate asks the generator for a sentence and falls back to plain
// formatting when there is none or it fails.
func (r *Relay) generate(words []string) (string, Method) {
	if r.generator == nil {
		return FormatFallback(words), MethodFallback
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.GenerationTimeout)
	defer cancel()

	start := r.clock.Now()
	text, err := r.generator.GenerateSentence(ctx, words)
	r.metrics.ObserveGeneration(r.clock.Since(start))
	if err != nil {
		slog.Warn("Sentence generation failed, using fallback", "callId", r.callID, "words", strings.Join(words, " "), "error", err)
		return FormatFallback(words), MethodFallback
	}
	if text = cleanGenerated(text); text == "" {
		return FormatFallback(words), MethodFallback
	}
	return text, MethodGenerated
}

// HandleRemoteGesture consumes a gesture-data payload from the peer.
func (r *Relay) HandleRemoteGesture(data signaling.GestureData) {
	switch data.Type {
	case signaling.GestureTypeGesture:
		r.remote.Observe(data.Text, 1)
	case signaling.GestureTypeSentence:
		r.applyRemoteSentence(data.Text)
	default:
		slog.Warn("Unknown gesture data type", "callId", r.callID, "type", data.Type)
	}
}

func (r *Relay) onRemoteWord(word string) {
	r.bus.Publish(WordEvent{Source: SourceRemote, Word: word})
}

func (r *Relay) onRemoteFinalized(f Finalized) {
	sentence := Sentence{
		Number: r.seq.Next(SourceRemote),
		Text:   FormatFallback(f.Words),
		Words:  f.Words,
		Source: SourceRemote,
		Method: MethodFallback,
		At:     f.At,
	}
	if !r.record(sentence, true) {
		return
	}
	r.metrics.Sentence(string(SourceRemote), string(MethodFallback))
	r.bus.Publish(SentenceEvent{Sentence: sentence})
}

// applyRemoteSentence treats the peer's sentence as authoritative: it drops
// an assembly in progress, or replaces a recent reconstruction, or is added
// as a new entry.
func (r *Relay) applyRemoteSentence(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	discarded := r.remote.Discard()
	now := r.clock.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !discarded && r.reconstructed != nil && now.Sub(r.reconstructed.At) <= r.cfg.ReconcileWindow {
		replaced := *r.reconstructed
		replaced.Text = text
		replaced.Method = MethodRelayed
		r.replaceLocked(replaced)
		r.reconstructed = nil
		r.mu.Unlock()

		r.metrics.Sentence(string(SourceRemote), string(MethodRelayed))
		r.bus.Publish(SentenceEvent{Sentence: replaced, Replaced: true})
		return
	}
	r.reconstructed = nil
	r.mu.Unlock()

	sentence := Sentence{
		Number: r.seq.Next(SourceRemote),
		Text:   text,
		Source: SourceRemote,
		Method: MethodRelayed,
		At:     now,
	}
	if !r.record(sentence, false) {
		return
	}
	r.metrics.Sentence(string(SourceRemote), string(MethodRelayed))
	r.bus.Publish(SentenceEvent{Sentence: sentence})
}

func (r *Relay) record(s Sentence, reconstructed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	h := append(r.history[s.Source], s)
	if len(h) > r.cfg.HistorySize {
		h = h[len(h)-r.cfg.HistorySize:]
	}
	r.history[s.Source] = h
	if reconstructed {
		c := s
		r.reconstructed = &c
	}
	return true
}

func (r *Relay) replaceLocked(s Sentence) {
	h := r.history[s.Source]
	for i := range h {
		if h[i].Number == s.Number {
			h[i] = s
			return
		}
	}
}

// SendSpeech relays a typed or transcribed message to the peer.
func (r *Relay) SendSpeech(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.bus.Publish(SpeechEvent{Source: SourceLocal, Text: text})
	if r.sender != nil && r.connected() {
		r.sender.SendSpeech(text)
	}
}

func (r *Relay) HandleRemoteSpeech(text string) {
	r.bus.Publish(SpeechEvent{Source: SourceRemote, Text: text})
}

// History returns the retained sentences of source, oldest first.
func (r *Relay) History(source Source) []Sentence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sentence(nil), r.history[source]...)
}

// Close stops both pipelines and abandons in-flight generation.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.reconstructed = nil
	r.mu.Unlock()

	r.local.Close()
	r.remote.Close()
	r.cancel()
}
