package tickets

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrEventNotFound  = errors.New("event not found")
	// ErrInvalidTransition is returned for status changes the ticket state
	// machine does not allow, including ones lost to a concurrent change.
	ErrInvalidTransition = errors.New("invalid ticket status transition")
	ErrTicketCancelled   = errors.New("ticket is cancelled")
)

// TakenError reports that an attendee field is already registered for the
// event.
type TakenError struct {
	Field string
}

func (e *TakenError) Error() string {
	return fmt.Sprintf("%s is already registered for this event", e.Field)
}
