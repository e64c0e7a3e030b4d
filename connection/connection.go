package connection

import (
	"encoding/json"
	"time"
)

const (
	// DefaultChannel is used when no channel is given.
	DefaultChannel = "default"
	// DefaultTTL is the lifetime of a freshly registered connection.
	DefaultTTL = 24 * time.Hour

	keyPrefix      = "connection:"
	indexKeyPrefix = "connection-index:"
)

// Connection is one logical client session registered in a channel.
// EXP is fixed at creation; reconnecting issues a new entry.
type Connection struct {
	CID string `json:"cid"`
	UID string `json:"uid"`
	IAT int64  `json:"iat"`
	EXP int64  `json:"exp"`
}

// Identity is the caller resolved before a connection is registered.
type Identity struct {
	CID string
	UID string
}

// Scope namespaces connection sets in the cache.
type Scope struct {
	Event   string
	Stage   string
	Channel string
}

// Key returns the cache key holding the scope's connection list, e.g.
// connection:[{"event":"ping","channel":"default","stage":"local"}].
func (s Scope) Key() string {
	data, _ := json.Marshal([]struct {
		Event   string `json:"event"`
		Channel string `json:"channel"`
		Stage   string `json:"stage"`
	}{{Event: s.Event, Channel: ChannelOrDefault(s.Channel), Stage: s.Stage}})
	return keyPrefix + string(data)
}

// indexKey returns the cache key listing the non-empty channels of an event.
func indexKey(event, stage string) string {
	data, _ := json.Marshal([]struct {
		Event string `json:"event"`
		Stage string `json:"stage"`
	}{{Event: event, Stage: stage}})
	return indexKeyPrefix + string(data)
}

// ChannelOrDefault maps the empty channel to DefaultChannel.
func ChannelOrDefault(channel string) string {
	if channel == "" {
		return DefaultChannel
	}
	return channel
}

// Clock reports the current time. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
