// Package promise reads the meetups ("promises") a user takes part in. The
// CRUD backend owns those records and publishes each user's list to the
// shared cache; this package only reads it.
package promise

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/promise-app-team/promise-api-sub000/cache"
)

// Summary is the slice of a meetup the realtime layer needs.
type Summary struct {
	ID          string `json:"id"`
	CompletedAt int64  `json:"completedAt,omitempty"`
}

// Active reports whether the meetup is still running.
func (s Summary) Active() bool {
	return s.CompletedAt == 0
}

// Directory lists the active meetups of a user.
type Directory interface {
	ActiveIDs(ctx context.Context, uid string) ([]string, error)
}

// CacheDirectory reads meetup lists published under "promise:active:<uid>".
type CacheDirectory struct {
	cache cache.Cache
}

// NewCacheDirectory creates a directory over the shared cache.
func NewCacheDirectory(c cache.Cache) *CacheDirectory {
	return &CacheDirectory{cache: c}
}

func activeKey(uid string) string {
	return fmt.Sprintf("promise:active:%s", uid)
}

// ActiveIDs returns the ids of the user's running meetups, without duplicates.
func (d *CacheDirectory) ActiveIDs(ctx context.Context, uid string) ([]string, error) {
	var summaries []Summary
	if _, err := d.cache.Get(ctx, activeKey(uid), &summaries); err != nil {
		return nil, fmt.Errorf("failed to read promises of %s: %w", uid, err)
	}
	return ids(summaries), nil
}

// Publish stores the user's meetup list. The CRUD backend calls it whenever
// membership changes; tests use it to seed state.
func (d *CacheDirectory) Publish(ctx context.Context, uid string, summaries []Summary) error {
	return d.cache.Set(ctx, activeKey(uid), summaries)
}

// Static is a fixed in-memory directory.
type Static struct {
	mu    sync.RWMutex
	users map[string][]Summary
}

// NewStatic creates an empty static directory.
func NewStatic() *Static {
	return &Static{users: make(map[string][]Summary)}
}

// Put replaces the user's meetup list.
func (s *Static) Put(uid string, summaries ...Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[uid] = summaries
}

func (s *Static) ActiveIDs(_ context.Context, uid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ids(s.users[uid]), nil
}

func ids(summaries []Summary) []string {
	active := lo.Filter(summaries, func(s Summary, _ int) bool { return s.Active() })
	return lo.Uniq(lo.Map(active, func(s Summary, _ int) string { return s.ID }))
}
