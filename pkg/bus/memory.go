package bus

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node deployments
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[Topic][]chan Event
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[Topic][]chan Event)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic Topic, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{Topic: topic, Payload: data}
	for _, ch := range b.subs[topic] {
		// Slow subscribers drop events rather than stall publishers,
		// mirroring fire-and-forget pub/sub semantics
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrBusClosed
	}
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Close already closed every subscriber channel
			if b.closed {
				return
			}
			chans := b.subs[topic]
			for i, c := range chans {
				if c == ch {
					b.subs[topic] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[Topic][]chan Event)
	return nil
}
