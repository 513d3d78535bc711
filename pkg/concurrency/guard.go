package concurrency

import (
	"errors"
	"sync"
)

var ErrBusy = errors.New("a call is already being set up")

// ConcurrencyGuard admits one holder at a time and rejects the rest with ErrBusy.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

// Acquire claims the guard until release is called. release may be called
// more than once.
func (g *ConcurrencyGuard) Acquire() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isBusy {
		return nil, ErrBusy
	}
	g.isBusy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.isBusy = false
			g.mu.Unlock()
		})
	}, nil
}
