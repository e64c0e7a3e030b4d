package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/promise-app-team/promise-api-sub000/metrics"
)

const (
	redisInitialBackoff = 50 * time.Millisecond
	redisMaxBackoff     = time.Second
)

// RedisOptions tunes a Redis cache.
type RedisOptions struct {
	// KeyTTL expires every written key after the given duration. Zero keeps keys forever.
	KeyTTL time.Duration
	// MaxRetries bounds the number of retries of a failed command.
	MaxRetries uint64
}

// Redis implements Cache on top of a Redis client.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	log    *slog.Logger
}

// NewRedis creates a new Redis-backed cache.
func NewRedis(client *redis.Client, opts RedisOptions, log *slog.Logger) *Redis {
	return &Redis{
		client: client,
		opts:   opts,
		log:    log,
	}
}

// Get retrieves and decodes a value from Redis.
func (c *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	var data string
	err := c.retry(ctx, "get", key, func() error {
		var err error
		data, err = c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set stores a JSON-encoded value in Redis.
func (c *Redis) Set(ctx context.Context, key string, value any) error {
	if value == nil {
		return ErrNilValue
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	err = c.retry(ctx, "set", key, func() error {
		return c.client.Set(ctx, key, data, c.opts.KeyTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes a key from Redis.
func (c *Redis) Del(ctx context.Context, key string) error {
	err := c.retry(ctx, "del", key, func() error {
		return c.client.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (c *Redis) retry(ctx context.Context, op, key string, operation func() error) error {
	metrics.CacheOperations.WithLabelValues(op).Inc()

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(redisInitialBackoff),
				backoff.WithMaxInterval(redisMaxBackoff),
			),
			c.opts.MaxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		c.log.Warn("retrying cache command", "op", op, "key", key, "error", err, "backoff", d)
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.CacheFailures.WithLabelValues(op).Inc()
	}
	return err
}
