// Package notify fans framebuffer update events out to in-process
// subscribers over Go channels.
//
// Delivery is non-blocking: if a subscriber's channel is full the event
// is dropped and counted, never queued. The compositor does not lose
// anything to a drop — it polls the store's update counter at repaint —
// so a stale event is worthless by the time a slow subscriber would get
// to it.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/melMass/Aton/internal/fb"
)

var (
	// ErrSubscriberExists is returned for a duplicate subscriber id.
	ErrSubscriberExists = errors.New("notify: subscriber id already exists")

	// ErrSubscriberNotFound is returned when unsubscribing an unknown id.
	ErrSubscriberNotFound = errors.New("notify: subscriber id not found")

	// ErrBusClosed is returned for operations on a closed bus.
	ErrBusClosed = errors.New("notify: bus is closed")

	// ErrNilChannel is returned when subscribing with a nil channel.
	ErrNilChannel = errors.New("notify: subscriber channel is nil")
)

// Event is one store mutation worth repainting for.
type Event = fb.Update

// SubscriberStats tracks delivery counters for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	ch      chan<- Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes update events to subscribers with a drop policy.
// All methods are safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a channel to receive events.
func (b *Bus) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber by id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish sends the event to every subscriber without blocking. Full
// channels drop the event; a closed bus swallows it.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BusStats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		ss := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		s.Subscribers[id] = ss
		s.TotalSent += ss.Sent
		s.TotalDropped += ss.Dropped
	}
	return s
}

// Close stops the bus. Subsequent Subscribe/Unsubscribe return
// ErrBusClosed; Publish becomes a no-op. Subscriber channels are not
// closed — their owners may still be draining them.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = make(map[string]*subscriber)
	return nil
}
