// Package events fans lifecycle events out to subscribers in per-session
// order.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/observability"
)

const relayTimeout = 5 * time.Second

// Handler consumes one event. Errors and panics are logged and never reach
// the publisher or other subscribers.
type Handler func(model.Event) error

// Relay forwards every event outside the process.
type Relay interface {
	Relay(ctx context.Context, event model.Event) error
}

// Subscription is returned by Subscribe. Done is closed when the
// subscription ends, either through Unsubscribe or because the session was
// released.
type Subscription struct {
	id        uint64
	sessionID string
	handler   Handler
	types     map[model.EventType]bool
	done      chan struct{}
	once      sync.Once
	b         *Broadcaster
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Unsubscribe() {
	s.b.unsubscribe(s)
}

func (s *Subscription) wants(t model.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

type queued struct {
	event     model.Event
	delivered chan struct{}
}

type topic struct {
	queue    []queued
	subs     map[uint64]*Subscription
	running  bool
	released bool
}

type Broadcaster struct {
	mu      sync.Mutex
	topics  map[string]*topic
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
	relay   Relay
	metrics *observability.Metrics
}

// NewBroadcaster creates a broadcaster. relay and metrics may be nil.
func NewBroadcaster(relay Relay, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		topics:  make(map[string]*topic),
		relay:   relay,
		metrics: metrics,
	}
}

// Subscribe registers handler for events of sessionID. With no types every
// event is delivered.
func (b *Broadcaster) Subscribe(sessionID string, handler Handler, types ...model.EventType) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		handler:   handler,
		done:      make(chan struct{}),
		b:         b,
	}
	if len(types) > 0 {
		sub.types = make(map[model.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.end()
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.topicLocked(sessionID).subs[sub.id] = sub

	log.Debug().
		Str("sessionId", sessionID).
		Msg("event subscriber added")
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if t, ok := b.topics[sub.sessionID]; ok {
		delete(t.subs, sub.id)
		if len(t.subs) == 0 && !t.running {
			delete(b.topics, sub.sessionID)
		}
	}
	b.mu.Unlock()
	sub.end()
}

// Publish enqueues event and returns without waiting for delivery. Events
// of one session are delivered in Publish order. The returned channel is
// closed once every subscriber has handled the event.
func (b *Broadcaster) Publish(event model.Event) <-chan struct{} {
	delivered := make(chan struct{})
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(delivered)
		return delivered
	}
	t := b.topicLocked(event.SessionID)
	t.queue = append(t.queue, queued{event: event, delivered: delivered})
	b.metrics.EventPublished(string(event.Type))
	if !t.running {
		t.running = true
		b.wg.Add(1)
		go b.drain(event.SessionID, t)
	}
	return delivered
}

// Release ends the subscriptions of sessionID once every event queued so
// far was delivered. It never blocks, so handlers may call it.
func (b *Broadcaster) Release(sessionID string) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if t.running {
		t.released = true
		b.mu.Unlock()
		return
	}
	subs := b.detachLocked(sessionID, t)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.end()
	}
}

func (b *Broadcaster) detachLocked(sessionID string, t *topic) map[uint64]*Subscription {
	subs := t.subs
	t.subs = make(map[uint64]*Subscription)
	t.released = false
	if b.topics[sessionID] == t {
		delete(b.topics, sessionID)
	}
	return subs
}

// Close delivers what is queued, ends every subscription and rejects
// further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.topics {
		for _, sub := range t.subs {
			sub.end()
		}
		delete(b.topics, id)
	}
}

func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[sessionID]; ok {
		return len(t.subs)
	}
	return 0
}

func (b *Broadcaster) topicLocked(sessionID string) *topic {
	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[sessionID] = t
	}
	return t
}

// drain is the single worker of a topic while its queue is non-empty.
func (b *Broadcaster) drain(sessionID string, t *topic) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(t.queue) == 0 {
			t.running = false
			var released map[uint64]*Subscription
			if t.released {
				released = b.detachLocked(sessionID, t)
			}
			b.mu.Unlock()
			for _, sub := range released {
				sub.end()
			}
			return
		}
		next := t.queue[0]
		t.queue = t.queue[1:]
		subs := make([]*Subscription, 0, len(t.subs))
		for _, sub := range t.subs {
			if sub.wants(next.event.Type) {
				subs = append(subs, sub)
			}
		}
		b.mu.Unlock()

		b.forward(next.event)
		for _, sub := range subs {
			b.deliver(sub, next.event)
		}
		close(next.delivered)
	}
}

func (b *Broadcaster) forward(event model.Event) {
	if b.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := b.relay.Relay(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", event.SessionID).
			Str("type", string(event.Type)).
			Msg("failed to relay event")
	}
}

func (b *Broadcaster) deliver(sub *Subscription, event model.Event) {
	select {
	case <-sub.done:
		return
	default:
	}

	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerFailed()
			log.Error().
				Str("sessionId", event.SessionID).
				Str("type", string(event.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()

	if err := sub.handler(event); err != nil {
		b.metrics.HandlerFailed()
		log.Warn().
			Err(err).
			Str("sessionId", event.SessionID).
			Str("type", string(event.Type)).
			Msg("event handler failed")
	}
}
