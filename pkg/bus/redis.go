package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes and subscribes over Redis channels. The client is
// injected and owned by the bus from construction to Close.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic Topic, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, string(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, string(topic))
	// Force the subscription onto the wire before returning
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- Event{Topic: Topic(msg.Channel), Payload: json.RawMessage(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { sub.Close() }
	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
