package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/promise-app-team/promise-api-sub000/metrics"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker is closed")

// Message is the envelope exchanged with the websocket poolers. ClientID is
// the gateway connection id; ServerID names the pooler instance holding the
// socket, when known.
type Message struct {
	ClientID string          `json:"client_id"`
	ServerID string          `json:"server_id,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis.
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

// MessageBroker moves messages between the poolers and this service.
type MessageBroker interface {
	// Publish sends a message to the channel (topic).
	Publish(ctx context.Context, channel string, message Message) error
	// Subscribe streams messages of the channel until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	// Type names the implementation for metrics.
	Type() string
	Close() error
}

// retryPolicy bounds the publish retries of a broker.
type retryPolicy struct {
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
}

// publishWithRetry runs send with exponential backoff and records the
// outcome under the broker type.
func publishWithRetry(ctx context.Context, kind, channel string, policy retryPolicy, message Message, log *slog.Logger, send func() error) error {
	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(policy.initial),
				backoff.WithMaxInterval(policy.max),
			),
			policy.maxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(send, strategy, func(err error, d time.Duration) {
		metrics.BrokerPublishRetries.WithLabelValues(kind).Inc()
		log.Warn("retrying publish", "broker", kind, "channel", channel, "client_id", message.ClientID, "error", err, "backoff", d)
	})
	if err != nil {
		return fmt.Errorf("%s publish to %s: %w", kind, channel, err)
	}
	metrics.BrokerMessagesPublished.WithLabelValues(kind).Inc()
	return nil
}
