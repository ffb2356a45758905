// Package eventbus provides the typed publish/subscribe channel that wires
// the registry, router and discovery together without back-references.
// The bus is nil-safe: Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package eventbus

import (
	"sync"
	"time"
)

// Topic names an event stream on the bus.
type Topic string

// Registry topics.
const (
	TopicAgentRegistered   Topic = "agent:registered"
	TopicAgentUnregistered Topic = "agent:unregistered"
	TopicTopologyChanged   Topic = "network:topology:changed"
)

// Discovery topics.
const (
	TopicAgentDiscovered   Topic = "agent:discovered"
	TopicAgentLost         Topic = "agent:lost"
	TopicRegistryConnected Topic = "registry:connected"
)

// Router topics.
const (
	TopicMessageSent     Topic = "message:sent"
	TopicMessageFailed   Topic = "message:failed"
	TopicCircuitOpened   Topic = "circuit:opened"
	TopicCircuitClosed   Topic = "circuit:closed"
	TopicCircuitHalfOpen Topic = "circuit:half-open"
	TopicCircuitFailure  Topic = "circuit:failure"
	TopicCircuitSuccess  Topic = "circuit:success"
	TopicCircuitReset    Topic = "circuit:reset"
	TopicCircuitEnabled  Topic = "circuit:enabled"
)

// Lifecycle topics.
const (
	TopicShutdown Topic = "shutdown"
)

// Event is one published occurrence. Data keys are topic-specific.
type Event struct {
	Topic     Topic          `json:"topic"`
	Timestamp time.Time      `json:"ts"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscription struct {
	ch     chan Event
	topics map[Topic]struct{} // nil means all topics
}

// Bus is a non-blocking broadcast bus. Subscribers receive events on
// buffered channels; a slow subscriber misses events rather than blocking
// publishers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Event]*subscription
	recvToSend map[<-chan Event]chan Event
	closed     bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]*subscription),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish broadcasts an event to all matching subscribers. It never blocks.
func (b *Bus) Publish(topic Topic, data map[string]any) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch, sub := range b.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
}

// Subscribe returns a channel receiving every published event. The buffer
// size bounds how far a subscriber may lag.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	return b.subscribe(buffer, nil)
}

// SubscribeTopics returns a channel receiving only the listed topics.
func (b *Bus) SubscribeTopics(buffer int, topics ...Topic) <-chan Event {
	set := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return b.subscribe(buffer, set)
}

func (b *Bus) subscribe(buffer int, topics map[Topic]struct{}) <-chan Event {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = &subscription{ch: ch, topics: topics}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(recv <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.recvToSend[recv]
	if !ok {
		return
	}
	delete(b.recvToSend, recv)
	delete(b.subs, ch)
	close(ch)
}

// Close shuts the bus down and closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Event]*subscription)
	b.recvToSend = make(map[<-chan Event]chan Event)
}
