// Package events fans out poll updates to live subscribers.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind
// before updates to it are dropped.
const subscriberBuffer = 16

// Broker manages per-poll subscriptions
type Broker struct {
	subscribers map[uuid.UUID]map[chan []byte]struct{} // pollID -> set of subscriber channels
	mu          sync.RWMutex
}

// NewBroker creates a new broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Subscribe registers a new subscriber for a poll's updates
func (b *Broker) Subscribe(pollID uuid.UUID) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
	if b.subscribers[pollID] == nil {
		b.subscribers[pollID] = make(map[chan []byte]struct{})
	}
	b.subscribers[pollID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// It is a no-op if the poll was already closed.
func (b *Broker) Unsubscribe(pollID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subscribers[pollID]
	if !exists {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, pollID)
	}
}

// Publish sends msg to every subscriber of a poll without blocking;
// subscribers with a full buffer miss the update.
func (b *Broker) Publish(pollID uuid.UUID, msg []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for ch := range b.subscribers[pollID] {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Close closes all subscriptions for a poll, e.g. when it is deleted
func (b *Broker) Close(pollID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers[pollID] {
		close(ch)
	}
	delete(b.subscribers, pollID)
}

// Subscribers returns the number of active subscribers for a poll
func (b *Broker) Subscribers(pollID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[pollID])
}
