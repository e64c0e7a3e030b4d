package event

import (
	"context"

	"github.com/promise-app-team/promise-api-sub000/connection"
)

// EventPing is the name of the ping event.
const EventPing = "ping"

// Ping connects callers to the default channel and routes messages within
// the channel named by the optional "channel" parameter.
type Ping struct {
	*Base
}

// NewPing creates the ping handler.
func NewPing(deps Deps) *Ping {
	return &Ping{Base: NewBase(EventPing, deps)}
}

func (p *Ping) Handle(ctx context.Context, cid string, data Data) error {
	channel, _ := data.ParamString("channel")
	return p.Route(ctx, cid, connection.ChannelOrDefault(channel), data)
}
