package concurrency

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a cancellable one-shot timer for a single concern. At most one
// callback is armed at any time: Reset replaces the pending one and Stop
// discards it. A callback that was already firing when it got replaced is
// dropped instead of run.
type Timer struct {
	name  string
	clock clock.Clock

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

// NewTimer creates an idle timer. name is only used for logging.
func NewTimer(name string, clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{name: name, clock: clk}
}

// Reset arms fn to run after d, cancelling whatever was armed before.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() {
		if !t.claim(gen) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Timer callback panicked", "timer", t.name, "panic", r)
			}
		}()
		fn()
	})
}

// Stop cancels the armed callback, if any. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	return true
}

// Active reports whether a callback is armed and has not fired yet.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// claim marks the callback of generation gen as consumed. Stale generations lose.
func (t *Timer) claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.timer == nil {
		return false
	}
	t.timer = nil
	return true
}
