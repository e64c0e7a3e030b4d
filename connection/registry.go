package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/promise-app-team/promise-api-sub000/cache"
	"github.com/promise-app-team/promise-api-sub000/metrics"
)

// Registry owns one Manager per event type. It is built once per process and
// handed to every component that needs connection state.
type Registry struct {
	cache cache.Cache
	stage string
	ttl   time.Duration
	clock Clock
	log   *slog.Logger

	mu       sync.Mutex
	managers map[string]*Manager
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithDefaultTTL sets the lifetime given to new connections.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates a registry storing its state in c under the given
// deployment stage.
func NewRegistry(c cache.Cache, stage string, opts ...Option) *Registry {
	r := &Registry{
		cache:    c,
		stage:    stage,
		ttl:      DefaultTTL,
		clock:    SystemClock,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		managers: make(map[string]*Manager),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stage returns the deployment stage the registry is scoped to.
func (r *Registry) Stage() string {
	return r.stage
}

// Clock returns the clock shared by every manager.
func (r *Registry) Clock() Clock {
	return r.clock
}

// ForEvent returns the manager of the event, creating it on first use.
func (r *Registry) ForEvent(event string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[event]; ok {
		return m
	}
	m := newManager(event, r.stage, r.cache, r.clock, r.ttl, r.log)
	r.managers[event] = m
	return m
}

// Managers returns every manager created so far, ordered by event.
func (r *Registry) Managers() []*Manager {
	r.mu.Lock()
	managers := lo.Values(r.managers)
	r.mu.Unlock()

	slices.SortFunc(managers, func(a, b *Manager) int {
		return strings.Compare(a.event, b.event)
	})
	return managers
}

// SweepDisconnect removes the given connection ids from every channel of
// every event. Each affected channel is persisted once. It keeps going past
// failing channels and returns the joined errors with the number of channels
// that changed.
func (r *Registry) SweepDisconnect(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		changed int
		errs    []error
	)
	for _, m := range r.Managers() {
		n, err := m.sweep(ctx, ids)
		changed += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	metrics.Sweeps.Inc()
	metrics.SweptChannels.Add(float64(changed))
	r.log.Info("disconnect sweep finished", "ids", len(ids), "channels", changed)
	return changed, errors.Join(errs...)
}
