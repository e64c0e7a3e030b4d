package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/promise-app-team/promise-api-sub000/broker"
	"github.com/promise-app-team/promise-api-sub000/event"
)

// BrokerEmitter delivers payloads by publishing them on the outbound channel,
// where the pooler holding the socket picks them up.
type BrokerEmitter struct {
	broker  broker.MessageBroker
	channel string
}

// NewBrokerEmitter creates an emitter publishing to channel.
func NewBrokerEmitter(b broker.MessageBroker, channel string) *BrokerEmitter {
	return &BrokerEmitter{broker: b, channel: channel}
}

func (e *BrokerEmitter) Emit(ctx context.Context, cid string, payload event.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return e.broker.Publish(ctx, e.channel, broker.Message{ClientID: cid, Data: data})
}
