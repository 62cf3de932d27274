package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/clubtix/internal/repository"
)

// Unique constraint names from the schema, mapped to the field they guard.
var uniqueFields = map[string]string{
	"tickets_event_email_key":   repository.FieldEmail,
	"tickets_event_student_key": repository.FieldStudentID,
	"tickets_code_key":          repository.FieldTicketCode,
	"events_slug_key":           repository.FieldSlug,
}

func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		// unique_violation
		if pge.Code == "23505" {
			if field, ok := uniqueFields[pge.ConstraintName]; ok {
				return &repository.UniqueViolationError{Field: field, Constraint: pge.ConstraintName}
			}
			return repository.ErrConflict
		}
		// serialization_failure and deadlock_detected keep the PgError so
		// IsRetryable still sees them.
	}

	return err
}

// wrapDBErr maps common DB errors to repository-level errors and wraps them
// with the provided operation name.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s:%w", op, translateDBErr(err))
}
