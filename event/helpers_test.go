package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/promise-app-team/promise-api-sub000/cache"
	"github.com/promise-app-team/promise-api-sub000/connection"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }

// recordingEmitter captures every payload instead of delivering it.
type recordingEmitter struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (e *recordingEmitter) Emit(_ context.Context, cid string, payload Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.deliveries = append(e.deliveries, Delivery{To: cid, Payload: payload})
	return nil
}

func (e *recordingEmitter) sent() []Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Delivery(nil), e.deliveries...)
}

func (e *recordingEmitter) reset() {
	e.mu.Lock()
	e.deliveries = nil
	e.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Notify(topic string, _ any) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

type countingDisconnector struct {
	ids []string
}

func (d *countingDisconnector) Enqueue(cid string) {
	d.ids = append(d.ids, cid)
}

func newDeps() (Deps, *recordingEmitter) {
	emitter := &recordingEmitter{}
	registry := connection.NewRegistry(cache.NewMemory(), "test",
		connection.WithClock(fixedClock{}),
		connection.WithLogger(discardLogger),
	)
	return Deps{Registry: registry, Emitter: emitter, Logger: discardLogger}, emitter
}

func errorOf(d Delivery) string {
	if body, ok := d.Payload.Data.(ErrorBody); ok {
		return body.Error
	}
	return ""
}
