// Package broadcast is an in-process, typed publish/subscribe primitive.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// message and is dropped, so a slow consumer cannot stall delivery paths.
// Subscriptions end when their context is cancelled or Close is called.
package broadcast

import (
	"context"
	"sync"
)

// Message wraps data of type T.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages from a Broadcaster.
type Subscriber[T any] interface {
	// Receive returns the channel messages arrive on. It is closed when the
	// subscription ends.
	Receive() <-chan Message[T]
	// Close ends the subscription. Idempotent.
	Close() error
}

// Broadcaster sends messages to multiple subscribers.
type Broadcaster[T any] interface {
	Subscribe(ctx context.Context) Subscriber[T]
	Broadcast(ctx context.Context, msg Message[T]) error
	Close() error
}

type subscriber[T any] struct {
	ch     chan Message[T]
	done   chan struct{}
	filter func(T) bool
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func (s *subscriber[T]) Receive() <-chan Message[T] { return s.ch }

func (s *subscriber[T]) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		close(s.done)
		s.mu.Unlock()
	})
	return nil
}

// offer attempts a non-blocking send. It reports false when the subscriber
// is closed or its buffer is full.
func (s *subscriber[T]) offer(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if s.filter != nil && !s.filter(msg.Data) {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
