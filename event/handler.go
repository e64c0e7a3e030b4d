package event

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/promise-app-team/promise-api-sub000/connection"
	"github.com/promise-app-team/promise-api-sub000/metrics"
)

// Handler serves one event type: it registers connections on connect and
// routes inbound messages.
type Handler interface {
	Name() string
	// Connect registers the caller. Precondition failures are returned as
	// errors for the gateway to reject.
	Connect(ctx context.Context, id connection.Identity) (Response, error)
	// Handle routes an inbound message. Routing failures are reported to the
	// sender through the emitter; only infrastructure failures are returned.
	Handle(ctx context.Context, cid string, data Data) error
	On(topic string, l Listener)
	Off(topic string, l Listener)
}

// Deps are the process-wide collaborators shared by every handler.
type Deps struct {
	Registry *connection.Registry
	Emitter  Emitter
	Logger   *slog.Logger
}

// Base carries the behaviour shared by all handlers. Concrete handlers embed
// it and provide Handle.
type Base struct {
	name       string
	conns      *connection.Manager
	emitter    Emitter
	clock      connection.Clock
	log        *slog.Logger
	strategies *StrategyManager

	mu        sync.RWMutex
	listeners map[string]map[Listener]struct{}
}

// NewBase creates the shared part of the handler serving the named event.
func NewBase(name string, deps Deps) *Base {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Base{
		name:      name,
		conns:     deps.Registry.ForEvent(name),
		emitter:   deps.Emitter,
		clock:     deps.Registry.Clock(),
		log:       log.With("event", name),
		listeners: make(map[string]map[Listener]struct{}),
	}
	b.strategies = NewStrategyManager(b.conns, b)
	return b
}

func (b *Base) Name() string {
	return b.name
}

// Connections returns the connection manager of the handler's event.
func (b *Base) Connections() *connection.Manager {
	return b.conns
}

// Connect registers the caller in the default channel.
func (b *Base) Connect(ctx context.Context, id connection.Identity) (Response, error) {
	if err := b.ConnectChannel(ctx, id, connection.DefaultChannel); err != nil {
		return Response{}, err
	}
	return Response{Message: "connected"}, nil
}

// ConnectChannel registers the caller in one channel, failing with
// ErrAlreadyConnected when the id is taken.
func (b *Base) ConnectChannel(ctx context.Context, id connection.Identity, channel string) error {
	ok, err := b.conns.SetConnection(ctx, id, channel)
	if err != nil {
		return fmt.Errorf("register %s in %s: %w", id.CID, channel, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyConnected, id.CID, channel)
	}
	b.notify(TopicConnect, id)
	return nil
}

// Route dispatches an inbound message from cid within channel.
func (b *Base) Route(ctx context.Context, cid, channel string, data Data) error {
	exists, err := b.conns.Exists(ctx, cid, channel)
	if err != nil {
		return err
	}
	if !exists {
		return b.fail(ctx, cid, fmt.Sprintf("connection '%s' not found", cid))
	}

	route := Route{Channel: channel, Data: data}
	raw, ok := data.ParamString("strategy")
	if !ok {
		route.Problem = "strategy not found"
		return b.strategies.Common().Post(ctx, cid, route)
	}

	strategy, ok := b.strategies.Get(StrategyName(raw))
	if !ok {
		route.Problem = fmt.Sprintf("strategy '%s' not found", raw)
		return b.strategies.Common().Post(ctx, cid, route)
	}

	metrics.MessagesRouted.WithLabelValues(b.name, raw).Inc()
	return strategy.Post(ctx, cid, route)
}

// Fail reports a routing problem to cid.
func (b *Base) Fail(ctx context.Context, cid, problem string) error {
	return b.fail(ctx, cid, problem)
}

func (b *Base) fail(ctx context.Context, cid, problem string) error {
	metrics.RoutingErrors.WithLabelValues(b.name).Inc()
	b.log.Debug("routing failed", "cid", cid, "problem", problem)
	return b.send(ctx, cid, cid, ErrorBody{Error: problem})
}

func (b *Base) send(ctx context.Context, from, to string, data any) error {
	payload := Payload{
		From:      from,
		Timestamp: b.clock.Now().Unix(),
		Data:      data,
	}
	b.notify(TopicEmit, Delivery{To: to, Payload: payload})

	if err := b.emitter.Emit(ctx, to, payload); err != nil {
		return fmt.Errorf("emit to %s: %w", to, err)
	}
	metrics.OutboundPayloads.Inc()
	return nil
}

// On subscribes l to topic. Subscribing the same listener twice is a no-op.
func (b *Base) On(topic string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.listeners[topic]
	if !ok {
		set = make(map[Listener]struct{})
		b.listeners[topic] = set
	}
	set[l] = struct{}{}
}

// Off unsubscribes l from topic.
func (b *Base) Off(topic string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.listeners[topic]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(b.listeners, topic)
		}
	}
}

func (b *Base) notify(topic string, value any) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners[topic]))
	for l := range b.listeners[topic] {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		l.Notify(topic, value)
	}
}
