package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/promise-app-team/promise-api-sub000/connection"
)

// StrategyName identifies a routing policy.
type StrategyName string

const (
	// StrategySelf echoes the body to the sender.
	StrategySelf StrategyName = "self"
	// StrategySpecific delivers the body to the peer named by the "to" parameter.
	StrategySpecific StrategyName = "specific"
	// StrategyBroadcast delivers the body to every other connection of the channel.
	StrategyBroadcast StrategyName = "broadcast"
	// StrategyCommon reports a routing problem to the sender. It is never
	// selected by name.
	StrategyCommon StrategyName = "common"
)

// Route is the routing input handed to a strategy.
type Route struct {
	Channel string
	Data    Data
	// Problem describes why the common strategy was chosen.
	Problem string
}

// Strategy selects the recipients of an inbound message.
type Strategy interface {
	Post(ctx context.Context, cid string, route Route) error
}

// sender is implemented by Base.
type sender interface {
	send(ctx context.Context, from, to string, data any) error
	fail(ctx context.Context, cid, problem string) error
}

// StrategyManager holds one instance of every selectable strategy plus the
// common fallback.
type StrategyManager struct {
	strategies map[StrategyName]Strategy
	common     Strategy
}

// NewStrategyManager builds the standard strategy set over a connection manager.
func NewStrategyManager(conns *connection.Manager, out sender) *StrategyManager {
	return &StrategyManager{
		strategies: map[StrategyName]Strategy{
			StrategySelf:      &selfStrategy{out: out},
			StrategySpecific:  &specificStrategy{out: out, conns: conns},
			StrategyBroadcast: &broadcastStrategy{out: out, conns: conns},
		},
		common: &commonStrategy{out: out},
	}
}

// Get returns the strategy registered under name.
func (sm *StrategyManager) Get(name StrategyName) (Strategy, bool) {
	s, ok := sm.strategies[name]
	return s, ok
}

// Common returns the fallback strategy.
func (sm *StrategyManager) Common() Strategy {
	return sm.common
}

type selfStrategy struct {
	out sender
}

func (s *selfStrategy) Post(ctx context.Context, cid string, route Route) error {
	return s.out.send(ctx, cid, cid, route.Data.Body)
}

type specificStrategy struct {
	out   sender
	conns *connection.Manager
}

func (s *specificStrategy) Post(ctx context.Context, cid string, route Route) error {
	to, ok := route.Data.ParamString("to")
	if !ok {
		return s.out.fail(ctx, cid, fmt.Sprintf("strategy '%s' requires a 'to' parameter", StrategySpecific))
	}

	peer, err := s.conns.GetConnection(ctx, to, route.Channel)
	if err != nil {
		return err
	}
	if peer == nil {
		return s.out.fail(ctx, cid, fmt.Sprintf("connection '%s' not found", to))
	}
	return s.out.send(ctx, cid, peer.CID, route.Data.Body)
}

type broadcastStrategy struct {
	out   sender
	conns *connection.Manager
}

func (s *broadcastStrategy) Post(ctx context.Context, cid string, route Route) error {
	conns, err := s.conns.GetConnections(ctx, route.Channel)
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range conns {
		if conn.CID == cid {
			continue
		}
		if err := s.out.send(ctx, cid, conn.CID, route.Data.Body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type commonStrategy struct {
	out sender
}

func (s *commonStrategy) Post(ctx context.Context, cid string, route Route) error {
	return s.out.fail(ctx, cid, route.Problem)
}
