// Package pubsub is the in-process event bus the editing sessions and UI
// surfaces share. It replaces a module-level listener registry with an
// injected object carrying an explicit subscribe/unsubscribe lifecycle.
package pubsub

import (
	"sync"
	"time"
)

// Topic names an event stream.
type Topic string

const (
	// TopicOrdersUpdated fires after any order or item mutation is
	// acknowledged by the store; listeners re-poll on it.
	TopicOrdersUpdated Topic = "orders_updated"
	// TopicNotificationsUpdated fires on service notifications (order
	// ready, order cancelled).
	TopicNotificationsUpdated Topic = "notifications_updated"
)

// Event is what subscribers receive.
type Event struct {
	Topic      Topic       `json:"topic"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Handler consumes events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

// Subscription is the handle returned by Subscribe; releasing it removes
// the handler from the bus.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    int
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.topic, s.id)
	s.bus = nil
}

// Bus fans events out to subscribers per topic.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][b.nextID] = handler
	return &Subscription{bus: b, topic: topic, id: b.nextID}
}

// Publish delivers an event to every handler subscribed to its topic.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	evt := Event{Topic: topic, OccurredAt: time.Now(), Payload: payload}
	for _, h := range handlers {
		h(evt)
	}
}

// SubscriberCount returns how many handlers a topic currently has.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) remove(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subs[topic]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.subs, topic)
		}
	}
}
