package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrStaleState is returned by conditional updates whose precondition
	// no longer holds (for example a ticket status changed concurrently).
	ErrStaleState = errors.New("stale state")
)

// Fields reported by UniqueViolationError.
const (
	FieldEmail      = "email"
	FieldStudentID  = "studentId"
	FieldTicketCode = "ticketCode"
	FieldSlug       = "slug"
)

// UniqueViolationError reports which unique key an insert collided with.
// It matches ErrConflict with errors.Is.
type UniqueViolationError struct {
	Field      string
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation on %s (%s)", e.Field, e.Constraint)
}

func (e *UniqueViolationError) Is(target error) bool {
	return target == ErrConflict
}

// ConflictField extracts the offending field from err, if any.
func ConflictField(err error) (string, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv.Field, true
	}
	return "", false
}
