package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/promise-app-team/promise-api-sub000/connection"
	"github.com/promise-app-team/promise-api-sub000/promise"
)

// EventShareLocation is the name of the location sharing event.
const EventShareLocation = "share-location"

// ShareLocation lets meetup participants exchange positions. Each active
// meetup of the caller is a channel.
type ShareLocation struct {
	*Base
	promises promise.Directory
}

// NewShareLocation creates the share-location handler.
func NewShareLocation(deps Deps, promises promise.Directory) *ShareLocation {
	return &ShareLocation{
		Base:     NewBase(EventShareLocation, deps),
		promises: promises,
	}
}

// Connect registers the caller in the channel of every active meetup. It
// fails with ErrNoEligibleChannel, registering nothing, when there is none.
// A failed registration undoes the channels joined so far.
func (s *ShareLocation) Connect(ctx context.Context, id connection.Identity) (Response, error) {
	ids, err := s.promises.ActiveIDs(ctx, id.UID)
	if err != nil {
		return Response{}, err
	}
	if len(ids) == 0 {
		return Response{}, fmt.Errorf("%w: user %s has no active promise", ErrNoEligibleChannel, id.UID)
	}

	var joined []string
	for _, pid := range ids {
		err := s.ConnectChannel(ctx, id, pid)
		switch {
		case errors.Is(err, ErrAlreadyConnected):
			continue
		case err != nil:
			return Response{}, errors.Join(err, s.leave(ctx, id.CID, joined))
		}
		joined = append(joined, pid)
	}
	registered := len(joined)
	if registered == 0 {
		return Response{}, fmt.Errorf("%w: %s", ErrAlreadyConnected, id.CID)
	}
	return Response{Message: fmt.Sprintf("connected to %d promise(s)", registered)}, nil
}

// Handle routes a message within the meetup named by the "promiseId" parameter.
func (s *ShareLocation) Handle(ctx context.Context, cid string, data Data) error {
	pid, ok := data.ParamString("promiseId")
	if !ok {
		return s.Fail(ctx, cid, "share-location requires a 'promiseId' parameter")
	}
	return s.Route(ctx, cid, pid, data)
}

func (s *ShareLocation) leave(ctx context.Context, cid string, channels []string) error {
	var errs []error
	for _, pid := range channels {
		if _, err := s.Connections().DelConnection(ctx, cid, pid); err != nil {
			errs = append(errs, fmt.Errorf("leave promise %s: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}
