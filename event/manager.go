package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/promise-app-team/promise-api-sub000/connection"
	"github.com/promise-app-team/promise-api-sub000/metrics"
)

// Disconnector queues a connection id for removal from every channel.
type Disconnector interface {
	Enqueue(cid string)
}

// Manager maps event names to their handlers. It is built once per process.
type Manager struct {
	handlers     map[string]Handler
	disconnector Disconnector
	log          *slog.Logger
}

// NewManager indexes the handlers by name.
func NewManager(disconnector Disconnector, log *slog.Logger, handlers ...Handler) (*Manager, error) {
	m := &Manager{
		handlers:     make(map[string]Handler, len(handlers)),
		disconnector: disconnector,
		log:          log,
	}
	for _, h := range handlers {
		if _, ok := m.handlers[h.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, h.Name())
		}
		m.handlers[h.Name()] = h
	}
	return m, nil
}

// Get returns the handler of the named event.
func (m *Manager) Get(name string) (Handler, error) {
	if name == "" {
		return nil, ErrEventRequired
	}
	h, ok := m.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return h, nil
}

// Names lists the registered events in order.
func (m *Manager) Names() []string {
	names := lo.Keys(m.handlers)
	slices.Sort(names)
	return names
}

// Connect registers the caller with the named event.
func (m *Manager) Connect(ctx context.Context, name string, id connection.Identity) (Response, error) {
	h, err := m.Get(name)
	if err != nil {
		return Response{}, err
	}

	resp, err := h.Connect(ctx, id)
	switch {
	case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrNoEligibleChannel):
		metrics.ConnectionsRegistered.WithLabelValues(name, "rejected").Inc()
	case err != nil:
		metrics.ConnectionsRegistered.WithLabelValues(name, "error").Inc()
	default:
		metrics.ConnectionsRegistered.WithLabelValues(name, "accepted").Inc()
		m.log.Info("connection registered", "event", name, "cid", id.CID, "uid", id.UID)
	}
	return resp, err
}

// Handle routes an inbound message to the named event's handler.
func (m *Manager) Handle(ctx context.Context, name, cid string, data Data) error {
	h, err := m.Get(name)
	if err != nil {
		return err
	}
	return h.Handle(ctx, cid, data)
}

// Disconnect schedules cid for removal from every event and channel. The
// caller does not know where cid was registered, so the removal happens in
// the next coalesced sweep. Repeating it is harmless.
func (m *Manager) Disconnect(_ context.Context, cid string) Response {
	m.disconnector.Enqueue(cid)
	m.log.Info("disconnect scheduled", "cid", cid)
	return Response{Message: "disconnected"}
}
