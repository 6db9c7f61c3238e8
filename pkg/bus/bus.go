// Package bus is an in-process publish/subscribe channel.
//
// A Bus is an explicit value owned by the application; components that
// announce events are handed the Bus they publish to.
//
//	b := bus.New()
//	unsubscribe := b.Subscribe(urlbar.TopicURLChanged, func(payload any) {
//	    ev := payload.(urlbar.Event)
//	    log.Println("hash changed from", ev.Was)
//	})
//	defer unsubscribe()
package bus

import (
	"sort"
	"sync"
)

// Handler receives published payloads.
type Handler func(payload any)

type subscription struct {
	id uint64
	fn Handler
}

// Bus dispatches payloads to the handlers subscribed to a topic.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = next
		}
		return
	}
}

// Publish calls every handler subscribed to topic, in subscription order,
// on the calling goroutine. It returns the number of handlers called.
func (b *Bus) Publish(topic string, payload any) int {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(payload)
	}
	return len(subs)
}

// Handlers returns a snapshot of the handlers subscribed to topic, in
// subscription order. Callers that need to isolate one handler's failure from
// the others iterate it instead of calling Publish.
func (b *Bus) Handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Handler, len(subs))
	for i, s := range subs {
		out[i] = s.fn
	}
	return out
}

// Topics returns the topics that currently have subscribers, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Subscribers returns the number of handlers subscribed to topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
