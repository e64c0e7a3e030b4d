package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var redisRetry = retryPolicy{maxRetries: 3, initial: 100 * time.Millisecond, max: 2 * time.Second}

// RedisBroker implements MessageBroker using Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	subs   []*redis.PubSub
}

// NewRedisBroker creates a new Redis message broker. The client stays owned
// by the caller.
func NewRedisBroker(client *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		log:    log,
	}
}

func (b *RedisBroker) Type() string {
	return "redis"
}

// Publish sends a message to the channel with retry capability.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	return publishWithRetry(ctx, b.Type(), channel, redisRetry, message, b.log, func() error {
		return b.client.Publish(ctx, channel, message).Err()
	})
}

// Subscribe starts listening for messages on the channel.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	pubsub := b.client.Subscribe(ctx, channel)
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, 100)
	go func() {
		defer close(messages)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var message Message
				if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
					b.log.Warn("message decode error", "channel", channel, "error", err)
					continue
				}
				select {
				case messages <- message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

// Close stops every subscription.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
