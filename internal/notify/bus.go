package notify

import (
	"sync"
	"time"
)

// Kind identifies the event type.
type Kind string

const (
	PositionOpened      Kind = "position_opened"
	PositionClosed      Kind = "position_closed"
	PartialExit         Kind = "partial_exit"
	EntryRejected       Kind = "entry_rejected"
	SwapFailed          Kind = "swap_failed"
	PriceSourceDegraded Kind = "price_source_degraded"
	WhaleDump           Kind = "whale_dump"
)

// Event is a single engine notification. The engine publishes; any
// presentation layer (or none, in tests) subscribes independently.
type Event struct {
	Kind   Kind           `json:"kind"`
	Token  string         `json:"token,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a slow
// subscriber's full channel drops the event for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	bufSize int
}

// NewBus creates a bus; bufSize is the per-subscriber channel capacity.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{bufSize: bufSize}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
