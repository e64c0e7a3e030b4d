package connection

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/promise-app-team/promise-api-sub000/cache"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	op    string
	key   string
	value string
}

// spyCache records every command issued against an in-memory cache.
type spyCache struct {
	inner *cache.Memory

	mu     sync.Mutex
	calls  []call
	getErr error
	setErr error
	// getGate, when set, blocks Gets after they read the store until it is
	// closed. gateKey limits the gate to one key.
	getGate chan struct{}
	gateKey string
	// getStarted receives a value each time a gated Get has read the store.
	getStarted chan struct{}
}

func newSpyCache() *spyCache {
	return &spyCache{inner: cache.NewMemory()}
}

func (s *spyCache) record(op, key string, value any) {
	var encoded string
	if value != nil {
		data, _ := json.Marshal(value)
		encoded = string(data)
	}
	s.mu.Lock()
	s.calls = append(s.calls, call{op: op, key: key, value: encoded})
	s.mu.Unlock()
}

func (s *spyCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.record("get", key, nil)
	found, err := s.inner.Get(ctx, key, dst)
	if s.gateKey == "" || s.gateKey == key {
		if s.getStarted != nil {
			s.getStarted <- struct{}{}
		}
		if s.getGate != nil {
			<-s.getGate
		}
	}
	s.mu.Lock()
	injected := s.getErr
	s.mu.Unlock()
	if injected != nil {
		return false, injected
	}
	return found, err
}

func (s *spyCache) Set(ctx context.Context, key string, value any) error {
	s.record("set", key, value)
	s.mu.Lock()
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, value)
}

func (s *spyCache) Del(ctx context.Context, key string) error {
	s.record("del", key, nil)
	return s.inner.Del(ctx, key)
}

func (s *spyCache) callsFor(op, key string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.op == op && c.key == key {
			out = append(out, c)
		}
	}
	return out
}

func (s *spyCache) reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// fakeScheduler records armed callbacks instead of running them.
type fakeScheduler struct {
	mu    sync.Mutex
	funcs []func()
	delay []time.Duration
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs = append(s.funcs, f)
	s.delay = append(s.delay, d)
	return &fakeTimer{}
}

func (s *fakeScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func newTestRegistry(c cache.Cache, clock Clock) *Registry {
	return NewRegistry(c, "test", WithClock(clock), WithLogger(discardLogger))
}
