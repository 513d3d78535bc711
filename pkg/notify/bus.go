package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Bus is a typed publish/subscribe fan-out. Subscribers are called
// synchronously, in subscription order, on the publishing goroutine.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id string
	fn func(T)
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function that removes it again.
func (b *Bus[T]) Subscribe(fn func(T)) (cancel func()) {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to every current subscriber. A panicking subscriber is
// logged and skipped.
func (b *Bus[T]) Publish(msg T) {
	b.mu.RLock()
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s, msg)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver[T any](s subscriber[T], msg T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification subscriber panicked", "subscriber", s.id, "panic", r)
		}
	}()
	s.fn(msg)
}
