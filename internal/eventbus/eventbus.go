// Package eventbus is the in-process publish/subscribe fan-out (C3). It
// never retains history — subscribers only see events published while they
// are subscribed — and a publish never blocks on a slow subscriber: each
// subscription owns a bounded channel and drops events rather than stalling
// the publisher, mirroring the teacher's general avoidance of unbounded
// synchronous fan-out in its event-bridging code (internal/agent/event).
package eventbus

import (
	"sync"

	"github.com/andywolf/agentfleet/internal/domain"
)

// subscriberQueueSize bounds how far a slow subscriber can lag before its
// own events start being dropped, per spec.md §4.3.
const subscriberQueueSize = 256

// Subscription is a live channel of events. Call Close when done listening.
type Subscription struct {
	C       <-chan domain.Event
	Dropped func() int64

	bus *Bus
	id  uint64
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id      uint64
	itemID  string // empty means global: receives every event
	ch      chan domain.Event
	dropped int64
	mu      sync.Mutex
}

func (s *subscriber) send(e domain.Event) {
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *subscriber) droppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus is a process-scoped singleton in production; tests construct their own
// fresh instance with New (see spec.md §9 on global mutable state).
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Publish fans e out to every matching live subscriber. Non-blocking: a
// subscriber whose queue is full has this event counted as dropped instead
// of stalling the publisher.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.itemID == "" || sub.itemID == e.ItemID {
			sub.send(e)
		}
	}
}

// SubscribeAll registers a global subscription that receives every event.
func (b *Bus) SubscribeAll() *Subscription {
	return b.subscribe("")
}

// SubscribeItem registers a subscription filtered to one item's events.
func (b *Bus) SubscribeItem(itemID string) *Subscription {
	return b.subscribe(itemID)
}

func (b *Bus) subscribe(itemID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, itemID: itemID, ch: make(chan domain.Event, subscriberQueueSize)}
	b.subs[id] = sub

	return &Subscription{C: sub.ch, Dropped: sub.droppedCount, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount reports the number of live subscriptions; used by tests
// and by item deletion to confirm observers were stopped.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
