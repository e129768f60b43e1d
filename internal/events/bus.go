// Package events fans domain events out to in-process subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/mcoot/playhub/internal/model"
)

// Publisher accepts domain events
type Publisher interface {
	Publish(event model.Event)
}

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 256

// Subscription receives events published after it was created
type Subscription struct {
	id     uint64
	events chan model.Event
	bus    *Bus
	once   sync.Once
}

// Events returns the channel events are delivered on. It is closed when
// the subscription or the bus is closed.
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Close stops delivery and closes the events channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is a non-blocking publish/subscribe fan-out. Slow subscribers drop
// events rather than stall publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// Ensure Bus implements Publisher
var _ Publisher = (*Bus)(nil)

// NewBus creates a new Bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers a new subscriber with the given buffer size
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		events: make(chan model.Event, buffer),
		bus:    b,
	}
	if b.closed {
		close(sub.events)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.once.Do(func() { close(sub.events) })
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(event model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for _, sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Warn("event dropped - subscriber buffer full",
			slog.String("event_type", string(event.Type)),
			slog.Int("dropped", dropped))
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.events) })
		delete(b.subs, id)
	}
}

// Recorder is a Publisher that keeps every event, for tests
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// Ensure Recorder implements Publisher
var _ Publisher = (*Recorder)(nil)

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the event
func (r *Recorder) Publish(event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of all recorded events
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of the given type
func (r *Recorder) OfType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Fanout publishes every event to each of its publishers in order
type Fanout []Publisher

// Publish forwards the event
func (f Fanout) Publish(event model.Event) {
	for _, p := range f {
		p.Publish(event)
	}
}
