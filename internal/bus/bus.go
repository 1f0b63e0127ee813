package bus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe bus scoped by conversation.
type Bus[E Scoped] struct {
	mu      sync.RWMutex
	subs    map[int]*subscription[E]
	next    int
	dropped atomic.Uint64
}

type subscription[E Scoped] struct {
	conversation string
	ch           chan E
}

// New creates a new event bus.
func New[E Scoped]() *Bus[E] {
	return &Bus[E]{
		subs: make(map[int]*subscription[E]),
	}
}

// Publish sends an event to the subscribers of its conversation and to every
// subscriber of all conversations.
func (b *Bus[E]) Publish(evt E) {
	conv := evt.Conversation()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.conversation != "" && sub.conversation != conv {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop event if subscriber is full (non-blocking).
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives events of one conversation, or
// of every conversation when conversation is empty. bufSize controls the
// channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus[E]) Subscribe(conversation string, bufSize int) (<-chan E, func()) {
	ch := make(chan E, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription[E]{conversation: conversation, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were dropped on full subscribers.
func (b *Bus[E]) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions.
func (b *Bus[E]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
