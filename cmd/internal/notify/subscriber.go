package notify

import (
	"sync"

	v1 "privat/shared/contracts/realtime/v1"
)

// Subscriber is one open notification stream.
//
// The events channel is never closed by the hub: broadcasters may still hold the
// subscriber while it is being removed. Done is the shutdown signal.
type Subscriber struct {
	ID     string
	UserID string

	events    chan v1.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id, userID string, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Subscriber{
		ID:     id,
		UserID: userID,
		events: make(chan v1.Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side of the subscriber queue.
func (s *Subscriber) Events() <-chan v1.Event {
	return s.events
}

// Done is closed once the subscriber has been unsubscribed or evicted.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Subscriber) close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// offer enqueues ev without blocking. It reports false when the subscriber is
// shutting down or its queue is full.
func (s *Subscriber) offer(ev v1.Event) bool {
	if s.closed() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}
