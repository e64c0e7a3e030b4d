package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := NewRedisBroker(client, discardLogger)
	messages, err := b.Subscribe(ctx, "gateway-outbound")
	require.NoError(t, err)

	sent := Message{ClientID: "c1", ServerID: "pooler-1", Data: json.RawMessage(`{"from":"c2"}`)}
	require.NoError(t, b.Publish(ctx, "gateway-outbound", sent))

	select {
	case got := <-messages:
		assert.Equal(t, sent.ClientID, got.ClientID)
		assert.Equal(t, sent.ServerID, got.ServerID)
		assert.JSONEq(t, string(sent.Data), string(got.Data))
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, "gateway-outbound", sent), ErrClosed)
	_, err = b.Subscribe(ctx, "gateway-outbound")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKafkaBroker_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	b := newKafkaBroker(producer, nil, discardLogger)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got Message
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ClientID != "c1" {
			return errors.New("unexpected client id " + got.ClientID)
		}
		return nil
	})
	require.NoError(t, b.Publish(context.Background(), "gateway-outbound", Message{ClientID: "c1", Data: json.RawMessage(`{}`)}))

	// A transient failure is retried.
	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)
	producer.ExpectSendMessageAndSucceed()
	require.NoError(t, b.Publish(context.Background(), "gateway-outbound", Message{ClientID: "c2", Data: json.RawMessage(`{}`)}))

	assert.Equal(t, "kafka", b.Type())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "gateway-outbound", Message{ClientID: "c3"}), ErrClosed)
	_, err := b.Subscribe(context.Background(), "gateway-inbound")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, b.Close(), "closing twice is a no-op")
}

func TestEncodeRecord(t *testing.T) {
	record, err := encodeRecord("gateway-outbound", Message{ClientID: "c1", ServerID: "pooler-1", Data: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)

	assert.Equal(t, "gateway-outbound", record.Topic)
	assert.Equal(t, sarama.StringEncoder("c1"), record.Key)
	assert.Equal(t, []sarama.RecordHeader{
		{Key: []byte("client_id"), Value: []byte("c1")},
		{Key: []byte("server_id"), Value: []byte("pooler-1")},
	}, record.Headers)

	value, err := record.Value.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"c1","server_id":"pooler-1","data":{"a":1}}`, string(value))

	record, err = encodeRecord("gateway-outbound", Message{ClientID: "c2"})
	require.NoError(t, err)
	assert.Len(t, record.Headers, 1, "server id header is omitted when unknown")
}

func TestDecodeRecord(t *testing.T) {
	testCases := []struct {
		name     string
		record   *sarama.ConsumerMessage
		expected Message
		wantErr  bool
	}{
		{
			name:     "ids in value",
			record:   &sarama.ConsumerMessage{Key: []byte("other"), Value: []byte(`{"client_id":"c1","server_id":"p1","data":{}}`)},
			expected: Message{ClientID: "c1", ServerID: "p1", Data: json.RawMessage(`{}`)},
		},
		{
			name: "ids in headers",
			record: &sarama.ConsumerMessage{
				Value: []byte(`{"data":{}}`),
				Headers: []*sarama.RecordHeader{
					{Key: []byte("client_id"), Value: []byte("c1")},
					{Key: []byte("server_id"), Value: []byte("p1")},
				},
			},
			expected: Message{ClientID: "c1", ServerID: "p1", Data: json.RawMessage(`{}`)},
		},
		{
			name:     "client id from key",
			record:   &sarama.ConsumerMessage{Key: []byte("c1"), Value: []byte(`{"data":{}}`)},
			expected: Message{ClientID: "c1", Data: json.RawMessage(`{}`)},
		},
		{
			name:    "malformed value",
			record:  &sarama.ConsumerMessage{Key: []byte("c1"), Value: []byte(`{`)},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeRecord(tc.record)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
