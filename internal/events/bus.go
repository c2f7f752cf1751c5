package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Envelope
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Envelope)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish fans the envelope out to subscribers without blocking. A nil bus
// discards everything.
func (b *Bus) Publish(e Event, tenantID, symbol string, data any) {
	if b == nil {
		return
	}
	env := Envelope{Type: e, TenantID: tenantID, Symbol: symbol, Data: data, Time: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
