package events

import (
	"sync"
	"time"
)

// EventBus provides publish/subscribe for runtime events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// DefaultHistorySize bounds the retained history of a bus created with
// a non-positive size.
const DefaultHistorySize = 1024

// MemoryBus is an in-memory implementation of EventBus. It keeps the most
// recent events for History.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	history     []Event
	maxHistory  int
}

// NewMemoryBus creates a new in-memory event bus retaining up to
// maxHistory events.
func NewMemoryBus(maxHistory int) *MemoryBus {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &MemoryBus{
		history:    make([]Event, 0, 64),
		maxHistory: maxHistory,
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
	b.mu.Unlock()

	// Held across the sends so Unsubscribe cannot close a channel
	// mid fan-out. Sends never block, so neither does the lock.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch := make(chan Event, 256)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes the subscription and closes its channel. Events
// already buffered can still be drained.
func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// TaskHistory returns the retained events of one task in publish order.
func (b *MemoryBus) TaskHistory(task string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.Task == task {
			result = append(result, e)
		}
	}
	return result
}
