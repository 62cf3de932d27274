package events

import "errors"

var (
	ErrEventNotFound = errors.New("event not found")
	ErrSlugTaken     = errors.New("slug already in use")
	// ErrModeLocked is returned when an event with tickets would leave
	// internal registration.
	ErrModeLocked = errors.New("registration mode cannot change while tickets exist")
	// ErrCapacityBelowActive is returned when an update would leave more
	// active tickets than the event admits.
	ErrCapacityBelowActive = errors.New("capacity below active ticket count")
	ErrImageNotFound       = errors.New("image not found")
)
