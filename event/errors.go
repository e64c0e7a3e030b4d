package event

import "errors"

var (
	// ErrEventRequired is returned when an event name is empty.
	ErrEventRequired = errors.New("event name is required")
	// ErrUnknownEvent is returned for an event name without a handler.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrDuplicateEvent is returned when two handlers claim the same name.
	ErrDuplicateEvent = errors.New("duplicate event handler")
	// ErrAlreadyConnected is returned when a connect finds the id registered.
	ErrAlreadyConnected = errors.New("connection already registered")
	// ErrNoEligibleChannel is returned when a caller has nowhere to connect.
	ErrNoEligibleChannel = errors.New("no eligible channel")
)
