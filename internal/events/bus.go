package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a lightweight in-process pub/sub broker built on channels. Publish
// never blocks: a subscriber that cannot keep up loses messages rather than
// stalling the producer, mirroring the lossy-tolerant channels it carries.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event. It returns the receive
// channel and an unsubscribe function that closes it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan any, buffer)

	b.mu.Lock()
	b.subs[e] = append(b.subs[e], ch)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					close(c)
					return
				}
			}
		})
	}
	return ch, unsub
}

// SubscribeFunc runs handler on its own goroutine for every message until
// ctx is done, then unsubscribes.
func (b *Bus) SubscribeFunc(ctx context.Context, e Event, buffer int, handler func(any)) {
	ch, unsub := b.Subscribe(e, buffer)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg)
			}
		}
	}()
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of messages discarded on slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
