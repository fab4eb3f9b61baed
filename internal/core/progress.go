package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies session progress events.
type EventKind string

const (
	EventItem    EventKind = "item"
	EventPrompt  EventKind = "prompt"
	EventSession EventKind = "session"
)

// Event is a progress notification for one session.
type Event struct {
	Kind     EventKind      `json:"kind"`
	ImportID uuid.UUID      `json:"importId"`
	ItemID   uuid.UUID      `json:"itemId,omitempty"`
	RowIndex int            `json:"rowIndex"`
	Status   string         `json:"status"`
	Prompt   *PendingPrompt `json:"prompt,omitempty"`
	At       time.Time      `json:"at"`
}

// Broadcaster fans session events out to subscribers. Slow subscribers miss
// events rather than blocking the driver.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe registers a listener for one session. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(importID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[importID] == nil {
		b.subs[importID] = make(map[chan Event]struct{})
	}
	b.subs[importID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[importID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, importID)
				}
			}
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber of its session without blocking.
func (b *Broadcaster) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.ImportID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of listeners for a session.
func (b *Broadcaster) Subscribers(importID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[importID])
}
