package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeByKeyPreferNewest(t *testing.T) {
	testCases := []struct {
		name     string
		resident map[string]Connection
		loaded   []Connection
		expected map[string]Connection
	}{
		{
			name:     "nothing resident",
			resident: nil,
			loaded:   []Connection{{CID: "a", IAT: 1}, {CID: "b", IAT: 2}},
			expected: map[string]Connection{"a": {CID: "a", IAT: 1}, "b": {CID: "b", IAT: 2}},
		},
		{
			name:     "duplicate loaded ids keep the newest",
			loaded:   []Connection{{CID: "a", UID: "new", IAT: 5}, {CID: "a", UID: "old", IAT: 3}},
			expected: map[string]Connection{"a": {CID: "a", UID: "new", IAT: 5}},
		},
		{
			name:     "duplicate loaded ids with equal iat keep the last",
			loaded:   []Connection{{CID: "a", UID: "first", IAT: 5}, {CID: "a", UID: "last", IAT: 5}},
			expected: map[string]Connection{"a": {CID: "a", UID: "last", IAT: 5}},
		},
		{
			name:     "resident entries survive a stale load",
			resident: map[string]Connection{"a": {CID: "a", UID: "local", IAT: 9}},
			loaded:   []Connection{{CID: "a", UID: "stale", IAT: 4}, {CID: "b", IAT: 4}},
			expected: map[string]Connection{"a": {CID: "a", UID: "local", IAT: 9}, "b": {CID: "b", IAT: 4}},
		},
		{
			name:     "resident entries absent from the load are kept",
			resident: map[string]Connection{"c": {CID: "c", IAT: 1}},
			loaded:   nil,
			expected: map[string]Connection{"c": {CID: "c", IAT: 1}},
		},
		{
			name:     "strictly newer loaded copy replaces the resident one",
			resident: map[string]Connection{"a": {CID: "a", UID: "local", IAT: 2}},
			loaded:   []Connection{{CID: "a", UID: "remote", IAT: 7}},
			expected: map[string]Connection{"a": {CID: "a", UID: "remote", IAT: 7}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, mergeByKeyPreferNewest(tc.resident, tc.loaded))
		})
	}
}

func TestScope_Key(t *testing.T) {
	assert.Equal(t,
		`connection:[{"event":"ping","channel":"default","stage":"prod"}]`,
		Scope{Event: "ping", Stage: "prod"}.Key())
	assert.Equal(t,
		`connection:[{"event":"share-location","channel":"42","stage":"dev"}]`,
		Scope{Event: "share-location", Stage: "dev", Channel: "42"}.Key())
	assert.Equal(t,
		`connection-index:[{"event":"ping","stage":"prod"}]`,
		indexKey("ping", "prod"))
}
