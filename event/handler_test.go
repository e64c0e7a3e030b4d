package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promise-app-team/promise-api-sub000/connection"
)

func connectAll(t *testing.T, h Handler, cids ...string) {
	t.Helper()
	for _, cid := range cids {
		_, err := h.Connect(context.Background(), connection.Identity{CID: cid, UID: "user-" + cid})
		require.NoError(t, err)
	}
}

func TestPing_Handle_Strategies(t *testing.T) {
	testCases := []struct {
		name          string
		param         map[string]any
		expectedTo    []string
		expectedError string
	}{
		{
			name:       "self echoes to the sender",
			param:      map[string]any{"strategy": "self"},
			expectedTo: []string{"alice"},
		},
		{
			name:       "specific reaches the named peer",
			param:      map[string]any{"strategy": "specific", "to": "bob"},
			expectedTo: []string{"bob"},
		},
		{
			name:          "specific to an unregistered peer reports to the sender",
			param:         map[string]any{"strategy": "specific", "to": "nobody"},
			expectedTo:    []string{"alice"},
			expectedError: "connection 'nobody' not found",
		},
		{
			name:          "specific without a target reports to the sender",
			param:         map[string]any{"strategy": "specific"},
			expectedTo:    []string{"alice"},
			expectedError: "strategy 'specific' requires a 'to' parameter",
		},
		{
			name:       "broadcast reaches every peer but the sender",
			param:      map[string]any{"strategy": "broadcast"},
			expectedTo: []string{"bob", "carol"},
		},
		{
			name:          "unknown strategy",
			param:         map[string]any{"strategy": "bogus"},
			expectedTo:    []string{"alice"},
			expectedError: "strategy 'bogus' not found",
		},
		{
			name:          "the fallback is not selectable",
			param:         map[string]any{"strategy": "common"},
			expectedTo:    []string{"alice"},
			expectedError: "strategy 'common' not found",
		},
		{
			name:          "missing strategy",
			param:         nil,
			expectedTo:    []string{"alice"},
			expectedError: "strategy not found",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deps, emitter := newDeps()
			ping := NewPing(deps)
			connectAll(t, ping, "alice", "bob", "carol")

			body := map[string]any{"lat": 37.5, "lng": 127.0}
			err := ping.Handle(context.Background(), "alice", Data{Param: tc.param, Body: body})
			require.NoError(t, err)

			sent := emitter.sent()
			require.Len(t, sent, len(tc.expectedTo))
			recipients := make([]string, 0, len(sent))
			for _, d := range sent {
				recipients = append(recipients, d.To)
				assert.Equal(t, "alice", d.Payload.From)
				assert.Equal(t, int64(1_700_000_000), d.Payload.Timestamp)
				if tc.expectedError != "" {
					assert.Equal(t, tc.expectedError, errorOf(d))
				} else {
					assert.Equal(t, body, d.Payload.Data)
				}
			}
			assert.ElementsMatch(t, tc.expectedTo, recipients)
		})
	}
}

func TestPing_Handle_MissingConnection(t *testing.T) {
	deps, emitter := newDeps()
	ping := NewPing(deps)
	connectAll(t, ping, "bob")

	err := ping.Handle(context.Background(), "ghost", Data{Param: map[string]any{"strategy": "broadcast"}, Body: "hi"})
	require.NoError(t, err)

	sent := emitter.sent()
	require.Len(t, sent, 1, "no strategy may run for an unknown sender")
	assert.Equal(t, "ghost", sent[0].To)
	assert.Contains(t, errorOf(sent[0]), "not found")
}

func TestPing_Handle_ChannelParameter(t *testing.T) {
	ctx := context.Background()
	deps, emitter := newDeps()
	ping := NewPing(deps)
	connectAll(t, ping, "alice", "bob")

	// alice is only registered in the default channel.
	err := ping.Handle(ctx, "alice", Data{Param: map[string]any{"strategy": "self", "channel": "other"}})
	require.NoError(t, err)

	sent := emitter.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "connection 'alice' not found", errorOf(sent[0]))
}

func TestBase_Connect_Duplicate(t *testing.T) {
	ctx := context.Background()
	deps, _ := newDeps()
	ping := NewPing(deps)

	resp, err := ping.Connect(ctx, connection.Identity{CID: "c1", UID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "connected", resp.Message)

	_, err = ping.Connect(ctx, connection.Identity{CID: "c1", UID: "u1"})
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	conns, err := ping.Connections().GetConnections(ctx, "")
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestBase_Listeners(t *testing.T) {
	ctx := context.Background()
	deps, _ := newDeps()
	ping := NewPing(deps)
	rec := &recorder{}

	ping.On(TopicEmit, rec)
	ping.On(TopicEmit, rec)
	connectAll(t, ping, "alice")

	require.NoError(t, ping.Handle(ctx, "alice", Data{Param: map[string]any{"strategy": "self"}}))
	assert.Equal(t, 1, rec.count(), "double subscription delivers once")

	ping.On(TopicConnect, rec)
	connectAll(t, ping, "bob")
	assert.Equal(t, 2, rec.count())

	ping.Off(TopicEmit, rec)
	ping.Off(TopicConnect, rec)
	require.NoError(t, ping.Handle(ctx, "alice", Data{Param: map[string]any{"strategy": "self"}}))
	connectAll(t, ping, "carol")
	assert.Equal(t, 2, rec.count())
}

func TestBase_EmitterFailurePropagates(t *testing.T) {
	deps, emitter := newDeps()
	ping := NewPing(deps)
	connectAll(t, ping, "alice")
	emitter.err = errors.New("socket gone")

	err := ping.Handle(context.Background(), "alice", Data{Param: map[string]any{"strategy": "self"}})
	assert.ErrorContains(t, err, "socket gone")
}

func TestData_ParamString(t *testing.T) {
	d := Data{Param: map[string]any{
		"s":     "value",
		"empty": "",
		"n":     float64(42),
		"i":     7,
		"obj":   map[string]any{},
	}}

	testCases := []struct {
		name     string
		expected string
		ok       bool
	}{
		{name: "s", expected: "value", ok: true},
		{name: "empty", ok: false},
		{name: "n", expected: "42", ok: true},
		{name: "i", expected: "7", ok: true},
		{name: "obj", ok: false},
		{name: "missing", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := d.ParamString(tc.name)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, got)
		})
	}
}
