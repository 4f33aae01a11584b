// Package notify fans UI-relevant core events out to subscribers (the
// websocket push, tests). Publishing never blocks: slow subscribers drop
// events rather than stall the core.
package notify

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventSessionChanged EventKind = "session_changed"
	EventNavigateLogin  EventKind = "navigate_login"
	EventRecordsChanged EventKind = "records_changed"
	EventOutboxChanged  EventKind = "outbox_changed"
)

type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
}

const subscriberBuffer = 16

// Bus is an in-process event fan-out. It implements domain.Notifier.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	now  func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers event to all current subscribers, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(kind EventKind) {
	ev := Event{Kind: kind, At: b.now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// domain.Notifier implementation

func (b *Bus) SessionChanged()  { b.Publish(EventSessionChanged) }
func (b *Bus) NavigateToLogin() { b.Publish(EventNavigateLogin) }
func (b *Bus) RecordsChanged()  { b.Publish(EventRecordsChanged) }
func (b *Bus) OutboxChanged()   { b.Publish(EventOutboxChanged) }
