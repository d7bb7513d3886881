package trace

import (
	"sync"
	"time"
)

// subBuffer is the per-subscriber channel capacity. A slow consumer loses
// the oldest events rather than stalling the execution.
const subBuffer = 256

// Bus fans execution events out to stream subscribers. Publishing never
// blocks.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for an execution's events. The returned cancel
// function must be called when the consumer is done; the channel is closed
// either by cancel or when the execution finishes.
func (b *Bus) Subscribe(executionID string) (<-chan Event, func()) {
	ch := make(chan Event, subBuffer)

	b.mu.Lock()
	set, ok := b.subs[executionID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[executionID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[executionID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, executionID)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the execution. When a
// subscriber's buffer is full the oldest event is dropped to make room.
func (b *Bus) Publish(executionID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.ExecutionID = executionID

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[executionID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close ends an execution's stream, closing all subscriber channels after
// any buffered events drain.
func (b *Bus) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[executionID]
	if !ok {
		return
	}
	for ch := range set {
		close(ch)
	}
	delete(b.subs, executionID)
}
