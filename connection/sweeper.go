package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	// DefaultSweepDelay is how long disconnects are collected before a sweep.
	DefaultSweepDelay = 300 * time.Millisecond
	// DefaultSweepCapacity bounds the pending set before an early flush.
	DefaultSweepCapacity = 1024

	finalFlushTimeout = 5 * time.Second
)

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallScheduler schedules on real timers.
var WallScheduler Scheduler = wallScheduler{}

// Sweeper coalesces disconnects arriving in a short burst into a single
// registry sweep. Disconnects are queued with Enqueue; a background goroutine
// started by Run performs the sweeps.
type Sweeper struct {
	registry  *Registry
	scheduler Scheduler
	delay     time.Duration
	capacity  int
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   Timer

	wake chan struct{}
}

// NewSweeper creates a sweeper over the registry. Zero delay or capacity
// selects the defaults.
func NewSweeper(registry *Registry, scheduler Scheduler, delay time.Duration, capacity int, log *slog.Logger) *Sweeper {
	if delay <= 0 {
		delay = DefaultSweepDelay
	}
	if capacity <= 0 {
		capacity = DefaultSweepCapacity
	}
	return &Sweeper{
		registry:  registry,
		scheduler: scheduler,
		delay:     delay,
		capacity:  capacity,
		log:       log,
		pending:   make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue schedules cid for removal from every channel. A flush is armed only
// when none is pending; later ids join the armed batch.
func (s *Sweeper) Enqueue(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[cid] = struct{}{}
	if len(s.pending) >= s.capacity {
		s.signal()
		return
	}
	if s.timer == nil {
		s.timer = s.scheduler.AfterFunc(s.delay, s.signal)
	}
}

// Pending returns the number of queued ids.
func (s *Sweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sweeper) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run performs sweeps until ctx is done, then flushes whatever is left.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			s.Flush(flushCtx)
			cancel()
			return
		case <-s.wake:
			s.Flush(ctx)
		}
	}
}

// Flush sweeps every queued id now. It returns the number of channels that
// changed.
func (s *Sweeper) Flush(ctx context.Context) int {
	s.mu.Lock()
	ids := lo.Keys(s.pending)
	s.pending = make(map[string]struct{})
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return 0
	}

	changed, err := s.registry.SweepDisconnect(ctx, ids...)
	if err != nil {
		s.log.Error("disconnect sweep failed", "ids", ids, "error", err)
	}
	return changed
}
