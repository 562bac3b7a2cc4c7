// Package eventbus implements the publish/subscribe broker that expresses
// the orchestrator's otherwise-cyclic observable graph (orchestrator <->
// buffers <-> ABR <-> pipeline metrics) as a DAG of typed stream sources
// plus a single broker the orchestrator owns. Subscription is the unit of
// lifetime: cancelling a subscription's context stops its delivery
// goroutine and closes its channel.
package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Bus is a typed, generic publish/subscribe broker. One Bus instance
// exists per message type per orchestrator run (e.g. Bus[Metrics] for
// pipeline progress, Bus[events.StreamEvent] for the merged output).
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[string]chan T
	cap  int
}

// New returns a Bus whose per-subscriber channels have the given capacity.
// Capacity 1 matches the segment pipeline's back-pressure rule; broader
// fan-out buses (e.g. the merged StreamEvent output) use a larger capacity
// so a slow consumer does not stall publishers.
func New[T any](capacity int) *Bus[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus[T]{subs: make(map[string]chan T), cap: capacity}
}

// Subscribe registers a new subscriber and returns its receive channel plus
// an unsubscribe function. The channel is closed when ctx is cancelled or
// Unsubscribe is called, whichever happens first.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	id := uuid.NewString()
	ch := make(chan T, b.cap)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			unsub()
		}()
	}

	return ch, unsub
}

// Publish delivers v to every current subscriber. Publish never blocks
// indefinitely on a single slow subscriber: a full channel drops the
// oldest pending value for that subscriber to make room, so a laggy
// consumer observes a gap rather than stalling the publisher (the
// cooperative single-threaded model has no room for a blocked publisher).
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions; exposed for
// metrics and tests.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes and closes every live subscriber channel. Called by
// the orchestrator's scoped teardown.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
