// Package broadcast implements the in-process catalog sync fan-out.
//
// Delivery contract: Broadcast(scope, payload) delivers the payload to
// every subscriber registered for that scope plus every subscriber
// registered for the Global wildcard. Delivery is lossy by design —
// there is no persistent queue, and a subscriber whose buffer is full
// loses the event and must reconcile with a full re-fetch. Within one
// scope, events reach each subscriber in the order Broadcast was
// called; no ordering holds across scopes. Payloads are complete
// snapshots rather than diffs, so re-applying a delivered event is a
// no-op for the receiver.
package broadcast

import (
	"sync"
	"time"
)

// Global is the reserved wildcard scope. A subscriber registered for
// Global receives every emission regardless of scope; an emission to
// Global reaches only Global subscribers.
const Global = "GLOBAL"

// Event is a single transient sync emission. Events are not persisted.
type Event[T any] struct {
	Scope   string    `json:"scope"`
	Payload T         `json:"payload"`
	At      time.Time `json:"at"`
}

// Broadcaster fans out scope-keyed events to subscribers.
type Broadcaster[T any] struct {
	buffer int

	mu   sync.Mutex
	subs map[*Subscriber[T]]struct{}
}

// Subscriber is a single registered consumer. Events arrive on the
// channel returned by Events until Close is called.
type Subscriber[T any] struct {
	scope string
	ch    chan Event[T]

	b      *Broadcaster[T]
	closed bool
}

// New creates a Broadcaster whose subscribers buffer up to buffer
// undelivered events each.
func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster[T]{
		buffer: buffer,
		subs:   make(map[*Subscriber[T]]struct{}),
	}
}

// Subscribe registers a consumer for the given scope. Pass Global to
// receive emissions for every scope.
func (b *Broadcaster[T]) Subscribe(scope string) *Subscriber[T] {
	sub := &Subscriber[T]{
		scope: scope,
		ch:    make(chan Event[T], b.buffer),
		b:     b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Broadcast delivers payload to all subscribers matching scope and
// returns how many received it. Subscribers with full buffers are
// skipped; the write path never blocks on a slow consumer.
func (b *Broadcaster[T]) Broadcast(scope string, payload T) int {
	ev := Event[T]{Scope: scope, Payload: payload, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for sub := range b.subs {
		if sub.scope != scope && sub.scope != Global {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			// Buffer full: drop. The subscriber reconciles via re-fetch.
		}
	}
	return delivered
}

// SubscriberCount returns the number of subscribers that would receive
// an emission for scope.
func (b *Broadcaster[T]) SubscriberCount(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for sub := range b.subs {
		if sub.scope == scope || sub.scope == Global {
			n++
		}
	}
	return n
}

// Events returns the subscriber's delivery channel. The channel is
// closed by Close.
func (s *Subscriber[T]) Events() <-chan Event[T] {
	return s.ch
}

// Scope returns the scope the subscriber registered for.
func (s *Subscriber[T]) Scope() string {
	return s.scope
}

// Close unregisters the subscriber and closes its channel. Safe to call
// once; events broadcast after Close are not delivered.
func (s *Subscriber[T]) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.b.subs, s)
	close(s.ch)
}
