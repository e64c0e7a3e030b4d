package event

import "context"

// Emitter delivers a payload to a connection. It is the only way the core
// talks to clients.
type Emitter interface {
	Emit(ctx context.Context, cid string, payload Payload) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, cid string, payload Payload) error

func (f EmitterFunc) Emit(ctx context.Context, cid string, payload Payload) error {
	return f(ctx, cid, payload)
}

// Delivery is published to "emit" listeners for every outbound payload.
type Delivery struct {
	To      string
	Payload Payload
}

// Listener observes in-process handler activity. Implementations must be
// comparable, which pointer receivers guarantee.
type Listener interface {
	Notify(topic string, value any)
}

const (
	// TopicEmit carries a Delivery.
	TopicEmit = "emit"
	// TopicConnect carries the registered connection.Identity.
	TopicConnect = "connect"
)
