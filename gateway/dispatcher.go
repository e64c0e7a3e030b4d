package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/promise-app-team/promise-api-sub000/broker"
	"github.com/promise-app-team/promise-api-sub000/connection"
	"github.com/promise-app-team/promise-api-sub000/event"
	"github.com/promise-app-team/promise-api-sub000/metrics"
)

const defaultInvocationTimeout = 10 * time.Second

// IdentityResolver resolves the user behind a connect request.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Channels names the broker channels of the gateway.
type Channels struct {
	Inbound  string
	Outbound string
}

// Dispatcher turns gateway envelopes into event manager calls.
type Dispatcher struct {
	broker   broker.MessageBroker
	events   *event.Manager
	identity IdentityResolver
	channels Channels
	timeout  time.Duration
	validate *validator.Validate
	log      *slog.Logger

	wg sync.WaitGroup
	mu sync.Mutex
	// stopped closes when the running Listen returns.
	stopped chan struct{}
}

// NewDispatcher creates a dispatcher. A zero timeout selects the default
// per-invocation timeout.
func NewDispatcher(b broker.MessageBroker, events *event.Manager, identity IdentityResolver, channels Channels, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultInvocationTimeout
	}
	return &Dispatcher{
		broker:   b,
		events:   events,
		identity: identity,
		channels: channels,
		timeout:  timeout,
		validate: validator.New(),
		log:      log,
	}
}

// Listen consumes the inbound channel until ctx is done or the subscription
// closes. Every envelope runs in its own goroutine.
func (d *Dispatcher) Listen(ctx context.Context) error {
	stopped := make(chan struct{})
	d.mu.Lock()
	d.stopped = stopped
	d.mu.Unlock()
	defer close(stopped)

	messages, err := d.broker.Subscribe(ctx, d.channels.Inbound)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", d.channels.Inbound, err)
	}
	d.log.Info("listening for gateway events", "channel", d.channels.Inbound)

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				d.log.Info("inbound channel closed")
				return nil
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				// In-flight invocations outlive shutdown of the listener.
				invocationCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
				defer cancel()
				if err := d.Dispatch(invocationCtx, message); err != nil {
					d.log.Error("failed to dispatch gateway event", "client_id", message.ClientID, "error", err)
				}
			}()
		}
	}
}

// Wait blocks until a running Listen has returned and every in-flight
// invocation has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
	d.wg.Wait()
}

// Dispatch handles a single gateway envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, message broker.Message) error {
	var env Envelope
	if err := json.Unmarshal(message.Data, &env); err != nil {
		metrics.InboundEvents.WithLabelValues("invalid").Inc()
		return d.reply(ctx, message, "", StatusError, "malformed envelope")
	}
	if env.ConnectionID == "" {
		env.ConnectionID = message.ClientID
	}
	if err := d.validate.Struct(env); err != nil {
		metrics.InboundEvents.WithLabelValues("invalid").Inc()
		d.log.Warn("invalid envelope", "client_id", env.ConnectionID, "error", err)
		return d.reply(ctx, message, env.Route, StatusError, "invalid envelope")
	}
	message.ClientID = env.ConnectionID
	metrics.InboundEvents.WithLabelValues(env.Route).Inc()

	switch env.Route {
	case RouteConnect:
		return d.connect(ctx, message, env)
	case RouteDisconnect:
		resp := d.events.Disconnect(ctx, env.ConnectionID)
		return d.reply(ctx, message, env.Route, StatusOK, resp.Message)
	default:
		return d.handle(ctx, message, env)
	}
}

func (d *Dispatcher) connect(ctx context.Context, message broker.Message, env Envelope) error {
	uid, err := d.identity.Resolve(ctx, env.Token)
	if err != nil {
		d.log.Info("connect rejected", "client_id", env.ConnectionID, "reason", err)
		return d.reply(ctx, message, env.Route, StatusRejected, "unauthorized")
	}
	if uid == "" {
		uid = env.ConnectionID
	}

	resp, err := d.events.Connect(ctx, env.Event, connection.Identity{CID: env.ConnectionID, UID: uid})
	switch {
	case errors.Is(err, event.ErrAlreadyConnected), errors.Is(err, event.ErrNoEligibleChannel):
		return d.reply(ctx, message, env.Route, StatusRejected, err.Error())
	case errors.Is(err, event.ErrUnknownEvent), errors.Is(err, event.ErrEventRequired):
		return d.reply(ctx, message, env.Route, StatusError, err.Error())
	case err != nil:
		if replyErr := d.reply(ctx, message, env.Route, StatusError, "internal error"); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	return d.reply(ctx, message, env.Route, StatusOK, resp.Message)
}

func (d *Dispatcher) handle(ctx context.Context, message broker.Message, env Envelope) error {
	err := d.events.Handle(ctx, env.Event, env.ConnectionID, env.Data)
	if errors.Is(err, event.ErrUnknownEvent) || errors.Is(err, event.ErrEventRequired) {
		return d.reply(ctx, message, env.Route, StatusError, err.Error())
	}
	return err
}

func (d *Dispatcher) reply(ctx context.Context, message broker.Message, route, status, text string) error {
	data, err := json.Marshal(Reply{Route: route, Status: status, Message: text})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	return d.broker.Publish(ctx, d.channels.Outbound, broker.Message{
		ClientID: message.ClientID,
		ServerID: message.ServerID,
		Data:     data,
	})
}
