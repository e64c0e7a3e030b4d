package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	kafkaClientID     = "promise-realtime"
	kafkaReadyTimeout = 10 * time.Second

	headerClientID = "client_id"
	headerServerID = "server_id"
)

var kafkaRetry = retryPolicy{maxRetries: 3, initial: 100 * time.Millisecond, max: 5 * time.Second}

// KafkaBroker carries gateway traffic over Kafka topics. Records are keyed by
// connection id, so every envelope and payload of one connection lands on
// the same partition and keeps its order.
type KafkaBroker struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafkaConfig returns the sarama configuration used by the broker.
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = kafkaClientID
	config.Version = sarama.V3_6_0_0

	// Replies are latency bound: send each record at once, hashed by key.
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = int(kafkaRetry.maxRetries)
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Compression = sarama.CompressionSnappy

	// Only live traffic matters; a restarted instance skips the backlog.
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	return config
}

// NewKafkaBroker connects a producer and a consumer group. Instances sharing
// groupID split the inbound partitions between them.
func NewKafkaBroker(brokers []string, groupID string, log *slog.Logger) (*KafkaBroker, error) {
	config := NewKafkaConfig()

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}
	return newKafkaBroker(producer, group, log), nil
}

func newKafkaBroker(producer sarama.SyncProducer, group sarama.ConsumerGroup, log *slog.Logger) *KafkaBroker {
	return &KafkaBroker{producer: producer, group: group, log: log}
}

func (b *KafkaBroker) Type() string {
	return "kafka"
}

func (b *KafkaBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Publish writes the message to the topic named by channel.
func (b *KafkaBroker) Publish(ctx context.Context, channel string, message Message) error {
	if b.isClosed() {
		return ErrClosed
	}
	record, err := encodeRecord(channel, message)
	if err != nil {
		return err
	}
	return publishWithRetry(ctx, b.Type(), channel, kafkaRetry, message, b.log, func() error {
		_, _, err := b.producer.SendMessage(record)
		return err
	})
}

// Subscribe joins the consumer group on the topic named by channel. The
// returned channel closes when ctx is done or the group is closed.
func (b *KafkaBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	messages := make(chan Message, 100)
	handler := &claimHandler{
		deliver: messages,
		ready:   make(chan struct{}),
		log:     b.log.With("topic", channel),
	}

	go func() {
		defer close(messages)
		// Consume returns on every rebalance and has to be called again.
		for ctx.Err() == nil {
			err := b.group.Consume(ctx, []string{channel}, handler)
			switch {
			case errors.Is(err, sarama.ErrClosedConsumerGroup):
				return
			case err != nil:
				b.log.Error("consumer group stopped", "topic", channel, "error", err)
				return
			}
		}
	}()

	go func() {
		for err := range b.group.Errors() {
			b.log.Warn("consumer group error", "topic", channel, "error", err)
		}
	}()

	select {
	case <-handler.ready:
		return messages, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(kafkaReadyTimeout):
		return nil, fmt.Errorf("timeout waiting for consumer of %s to be ready", channel)
	}
}

// Close shuts the producer and the consumer group down.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if b.group != nil {
		if err := b.group.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer group: %w", err))
		}
	}
	return errors.Join(errs...)
}

// encodeRecord keys the record by connection id and copies the routing ids
// into headers, so poolers can route without decoding the value.
func encodeRecord(topic string, message Message) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []sarama.RecordHeader{{Key: []byte(headerClientID), Value: []byte(message.ClientID)}}
	if message.ServerID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerServerID), Value: []byte(message.ServerID)})
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(message.ClientID),
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}, nil
}

// decodeRecord reads a message, taking the routing ids from the record key
// and headers when the value leaves them out.
func decodeRecord(record *sarama.ConsumerMessage) (Message, error) {
	var message Message
	if err := json.Unmarshal(record.Value, &message); err != nil {
		return Message{}, err
	}

	for _, h := range record.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case headerClientID:
			if message.ClientID == "" {
				message.ClientID = string(h.Value)
			}
		case headerServerID:
			if message.ServerID == "" {
				message.ServerID = string(h.Value)
			}
		}
	}
	if message.ClientID == "" {
		message.ClientID = string(record.Key)
	}
	return message, nil
}

// claimHandler forwards the records of every claimed partition.
type claimHandler struct {
	deliver chan<- Message
	ready   chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	done := session.Context().Done()
	for {
		select {
		case <-done:
			return nil
		case record, ok := <-claim.Messages():
			if !ok || record == nil {
				return nil
			}

			message, err := decodeRecord(record)
			if err != nil {
				// An undecodable record fails the same way on redelivery.
				h.log.Warn("message decode error", "partition", record.Partition, "offset", record.Offset, "error", err)
				session.MarkMessage(record, "")
				continue
			}

			select {
			case h.deliver <- message:
				session.MarkMessage(record, "")
			case <-done:
				return nil
			}
		}
	}
}
