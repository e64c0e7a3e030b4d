package event

import (
	"strconv"
)

// Data is the payload of an inbound message. Param carries routing
// parameters such as the strategy; Body is forwarded untouched.
type Data struct {
	Param map[string]any `json:"param,omitempty"`
	Body  any            `json:"body"`
}

// ParamString returns a routing parameter as a string. Numeric parameters
// are formatted without exponent; empty and non-scalar values are absent.
func (d Data) ParamString(name string) (string, bool) {
	raw, ok := d.Param[name]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// Payload is what the emitter delivers to a connection.
type Payload struct {
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// ErrorBody is the payload data of a routing failure.
type ErrorBody struct {
	Error string `json:"error"`
}

// Response answers connect and disconnect requests.
type Response struct {
	Message string `json:"message"`
}
