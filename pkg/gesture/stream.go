package gesture

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rescp17/signbridge/pkg/concurrency"
)

// Sentinel classifier labels.
const (
	LabelNoHands = "No hands detected"
	LabelNone    = "None"
)

func isNoHands(label string) bool { return strings.EqualFold(label, LabelNoHands) }
func isNone(label string) bool    { return label == "" || strings.EqualFold(label, LabelNone) }

type StreamConfig struct {
	// WindowSize is the number of recent labels the majority vote runs over.
	WindowSize int
	// NoHandsIdle finalizes a sentence once no hands were seen this long.
	NoHandsIdle time.Duration
	// AutoFinalize finalizes a sentence this long after its last word.
	AutoFinalize time.Duration
	// Cooldown is the minimum gap between two accepted words.
	Cooldown time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WindowSize:   5,
		NoHandsIdle:  1500 * time.Millisecond,
		AutoFinalize: 3 * time.Second,
		Cooldown:     500 * time.Millisecond,
	}
}

func (c StreamConfig) Validate() error {
	if c.WindowSize <= 0 {
		return errors.New("window size must be positive")
	}
	if c.NoHandsIdle <= 0 {
		return errors.New("no-hands idle must be positive")
	}
	if c.AutoFinalize <= 0 {
		return errors.New("auto-finalize delay must be positive")
	}
	if c.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	return nil
}

// Trigger says what ended a sentence.
type Trigger int

const (
	TriggerAutoFinalize Trigger = iota
	TriggerNoHands
)

func (t Trigger) String() string {
	if t == TriggerNoHands {
		return "no-hands"
	}
	return "auto-finalize"
}

type Finalized struct {
	Words   []string
	Trigger Trigger
	At      time.Time
}

// StreamHandlers receive the output of a Stream. They are called without the
// stream lock held.
type StreamHandlers struct {
	OnWord     func(word string)
	OnFinalize func(f Finalized)
}

// Stream smooths classifier labels and assembles accepted words into
// sentences. Each sentence is finalized exactly once, by the auto-finalize
// timer or the no-hands timer, whichever fires first.
type Stream struct {
	cfg      StreamConfig
	clock    clock.Clock
	handlers StreamHandlers

	mu             sync.Mutex
	recent         []string
	words          []string
	building       bool
	sentenceID     uint64
	lastAcceptedAt time.Time
	noHandsSince   time.Time
	closed         bool

	autoTimer *concurrency.Timer
	idleTimer *concurrency.Timer
}

func NewStream(cfg StreamConfig, clk clock.Clock, handlers StreamHandlers) *Stream {
	if clk == nil {
		clk = clock.New()
	}
	return &Stream{
		cfg:       cfg,
		clock:     clk,
		handlers:  handlers,
		recent:    make([]string, 0, cfg.WindowSize),
		autoTimer: concurrency.NewTimer("auto-finalize", clk),
		idleTimer: concurrency.NewTimer("no-hands", clk),
	}
}

// Observe feeds one classification and returns the smoothed label.
func (s *Stream) Observe(label string, score float64) string {
	label = strings.TrimSpace(label)
	switch {
	case isNoHands(label):
		label = LabelNoHands
	case isNone(label):
		label = LabelNone
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	s.push(label)
	smoothed := s.majority()
	now := s.clock.Now()

	if isNoHands(smoothed) {
		if s.noHandsSince.IsZero() {
			s.noHandsSince = now
		}
		if s.building && len(s.words) > 0 && !s.idleTimer.Active() {
			id := s.sentenceID
			s.idleTimer.Reset(s.cfg.NoHandsIdle, func() { s.finalize(id, TriggerNoHands) })
		}
		s.mu.Unlock()
		return smoothed
	}
	s.idleTimer.Stop()
	s.noHandsSince = time.Time{}

	if isNone(smoothed) {
		s.mu.Unlock()
		return smoothed
	}

	if !s.building {
		s.building = true
		s.words = nil
		s.sentenceID++
		s.armAutoFinalize()
	}

	var accepted string
	if s.count(smoothed) > 0 &&
		(s.lastAcceptedAt.IsZero() || now.Sub(s.lastAcceptedAt) >= s.cfg.Cooldown) &&
		(len(s.words) == 0 || s.words[len(s.words)-1] != smoothed) {
		s.words = append(s.words, smoothed)
		s.lastAcceptedAt = now
		s.armAutoFinalize()
		accepted = smoothed
	}
	s.mu.Unlock()

	if accepted != "" && s.handlers.OnWord != nil {
		s.handlers.OnWord(accepted)
	}
	return smoothed
}

func (s *Stream) armAutoFinalize() {
	id := s.sentenceID
	s.autoTimer.Reset(s.cfg.AutoFinalize, func() { s.finalize(id, TriggerAutoFinalize) })
}

func (s *Stream) push(label string) {
	if len(s.recent) == s.cfg.WindowSize {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, label)
}

// majority returns the most frequent label of the window. Ties go to the
// label that entered the tally first.
func (s *Stream) majority() string {
	counts := make(map[string]int, len(s.recent))
	var order []string
	for _, l := range s.recent {
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	best, bestCount := "", 0
	for _, l := range order {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best
}

func (s *Stream) count(label string) int {
	n := 0
	for _, l := range s.recent {
		if l == label {
			n++
		}
	}
	return n
}

func (s *Stream) finalize(id uint64, trigger Trigger) {
	s.mu.Lock()
	if s.closed || !s.building || s.sentenceID != id {
		s.mu.Unlock()
		return
	}
	words := s.words
	s.resetLocked()
	s.mu.Unlock()

	if len(words) == 0 || s.handlers.OnFinalize == nil {
		return
	}
	s.handlers.OnFinalize(Finalized{Words: words, Trigger: trigger, At: s.clock.Now()})
}

func (s *Stream) resetLocked() {
	s.autoTimer.Stop()
	s.idleTimer.Stop()
	s.building = false
	s.words = nil
	s.lastAcceptedAt = time.Time{}
	s.noHandsSince = time.Time{}
}

// Building reports whether a sentence is being assembled.
func (s *Stream) Building() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.building
}

// Words returns the words of the sentence in progress.
func (s *Stream) Words() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.words...)
}

// Discard drops the sentence in progress without finalizing it. It reports
// whether there was one.
func (s *Stream) Discard() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.building
	s.resetLocked()
	return had
}

// Reset clears the sentence in progress and the smoothing window.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.recent = s.recent[:0]
}

// Close stops both timers; later observations are ignored.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.resetLocked()
}
