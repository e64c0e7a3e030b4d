package cache

import (
	"context"
	"errors"
)

// ErrNilValue is returned by Set when asked to store a nil value.
var ErrNilValue = errors.New("cache: nil value")

// Cache is the shared key-value store that owns every piece of session state.
// Values are JSON documents; implementations give per-key read-your-writes and
// nothing more.
type Cache interface {
	// Get decodes the value stored under key into dst. It reports false when
	// the key does not exist.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value any) error
	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
}
