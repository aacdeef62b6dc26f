package inproc

import (
	"errors"
	"sync"

	"velu/internal/domain"
)

var ErrQueueFull = errors.New("subscriber queue is full")

// Bus fans orchestrator events out to in-process subscribers. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Event
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Event),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(id string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		return ch
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[id] = ch
	return ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish offers ev to every subscriber and reports ErrQueueFull if any of
// them dropped it.
func (b *Bus) Publish(ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped bool
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}
