package gateway

import "github.com/promise-app-team/promise-api-sub000/event"

// Routes of the gateway events forwarded by the poolers.
const (
	RouteConnect    = "connect"
	RouteDisconnect = "disconnect"
	RouteMessage    = "message"
)

// Reply statuses.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Envelope is one gateway event. Each envelope is handled on its own, with
// no state carried over from earlier envelopes of the same connection.
type Envelope struct {
	Route        string     `json:"route" validate:"required,oneof=connect disconnect message"`
	ConnectionID string     `json:"connectionId" validate:"required"`
	Token        string     `json:"token,omitempty"`
	Event        string     `json:"event" validate:"required_unless=Route disconnect"`
	Data         event.Data `json:"data"`
}

// Reply answers connect and disconnect envelopes, and message envelopes the
// service could not route at all.
type Reply struct {
	Route   string `json:"route"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
