package registration

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventFull     = errors.New("event is full")
	// ErrMembersOnly is returned to anonymous callers of events that do
	// not admit guests.
	ErrMembersOnly = errors.New("registration is restricted to members")
	// ErrCodeCollision means every minted ticket code was already taken.
	ErrCodeCollision = errors.New("could not mint a unique ticket code")
)

// NotOpenError refuses a registration outside the open window. Reason is
// one of cancelled, closed, coming_soon, past or full.
type NotOpenError struct {
	Reason string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("registration is not open (%s)", e.Reason)
}

// ExternalError sends the caller to the event's external registration page.
type ExternalError struct {
	URL string
}

func (e *ExternalError) Error() string {
	return "registration is handled externally at " + e.URL
}

// DuplicateAttendeeError reports the attendee field already registered for
// the event.
type DuplicateAttendeeError struct {
	Field string
}

func (e *DuplicateAttendeeError) Error() string {
	return fmt.Sprintf("already registered with this %s", e.Field)
}
