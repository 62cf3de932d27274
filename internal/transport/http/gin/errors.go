package httpgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/clubtix/internal/media"
	"github.com/kirinyoku/clubtix/internal/service/events"
	"github.com/kirinyoku/clubtix/internal/service/registration"
	"github.com/kirinyoku/clubtix/internal/service/tickets"
	"github.com/kirinyoku/clubtix/internal/validation"
)

const (
	kindBadRequest   = "BadRequest"
	kindUnauthorized = "Unauthorized"
	kindForbidden    = "Forbidden"
	kindNotFound     = "NotFound"
	kindConflict     = "Conflict"
	kindUnavailable  = "Unavailable"
	kindTooMany      = "TooManyRequests"
	kindInternal     = "Internal"
)

func abortWith(c *gin.Context, status int, body ErrorResponse) {
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	abortWith(c, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: kindBadRequest, Code: "BadRequest"})
}

// respondErr maps service errors onto the error body. Anything unknown is
// reported as a sanitized 500 and kept on the context for the access log.
func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		verr     *validation.Error
		dup      *registration.DuplicateAttendeeError
		taken    *tickets.TakenError
		notOpen  *registration.NotOpenError
		external *registration.ExternalError
	)

	switch {
	case errors.As(err, &verr):
		abortWith(c, http.StatusBadRequest, ErrorResponse{
			Error: verr.Error(), Kind: kindBadRequest, Code: "ValidationFailed", Field: verr.Field,
		})

	case errors.As(err, &external):
		abortWith(c, http.StatusBadRequest, ErrorResponse{
			Error: "registration is handled externally", Kind: kindUnavailable,
			Code: "UseExternalRegistration", ExternalURL: external.URL,
		})
	case errors.As(err, &notOpen):
		abortWith(c, http.StatusBadRequest, ErrorResponse{
			Error: "registration is not open", Kind: kindUnavailable,
			Code: "RegistrationNotOpen", Reason: notOpen.Reason,
		})
	case errors.Is(err, registration.ErrEventFull):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "event is full", Kind: kindConflict, Code: "EventFull", Reason: "full",
		})
	case errors.As(err, &dup):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: dup.Error(), Kind: kindConflict, Code: "DuplicateAttendee", Field: dup.Field,
		})
	case errors.As(err, &taken):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: taken.Error(), Kind: kindConflict, Code: "DuplicateAttendee", Field: taken.Field,
		})
	case errors.Is(err, registration.ErrCodeCollision):
		_ = c.Error(err)
		abortWith(c, http.StatusInternalServerError, ErrorResponse{
			Error: "could not issue a ticket, try again", Kind: kindInternal, Code: "Internal",
		})
	case errors.Is(err, registration.ErrMembersOnly):
		abortWith(c, http.StatusForbidden, ErrorResponse{
			Error: "registration is restricted to members", Kind: kindForbidden, Code: "MembersOnly",
		})

	case errors.Is(err, events.ErrEventNotFound),
		errors.Is(err, registration.ErrEventNotFound),
		errors.Is(err, tickets.ErrEventNotFound):
		abortWith(c, http.StatusNotFound, ErrorResponse{Error: "event not found", Kind: kindNotFound, Code: "EventNotFound"})
	case errors.Is(err, tickets.ErrTicketNotFound):
		abortWith(c, http.StatusNotFound, ErrorResponse{Error: "ticket not found", Kind: kindNotFound, Code: "TicketNotFound"})
	case errors.Is(err, events.ErrImageNotFound):
		abortWith(c, http.StatusNotFound, ErrorResponse{Error: "image not found", Kind: kindNotFound, Code: "ImageNotFound"})

	case errors.Is(err, events.ErrSlugTaken):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "slug already in use", Kind: kindConflict, Code: "SlugTaken", Field: "slug",
		})
	case errors.Is(err, events.ErrModeLocked):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "registration mode cannot change while tickets exist", Kind: kindConflict, Code: "ModeLocked",
		})
	case errors.Is(err, events.ErrCapacityBelowActive):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "capacity is below the number of active tickets", Kind: kindConflict, Code: "CapacityBelowActive",
		})
	case errors.Is(err, tickets.ErrInvalidTransition):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "invalid status transition", Kind: kindConflict, Code: "InvalidTransition",
		})
	case errors.Is(err, tickets.ErrTicketCancelled):
		abortWith(c, http.StatusConflict, ErrorResponse{
			Error: "ticket is cancelled", Kind: kindConflict, Code: "TicketCancelled",
		})

	case errors.Is(err, media.ErrTooLarge):
		abortWith(c, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "file too large", Kind: kindBadRequest, Code: "MediaTooLarge",
		})
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmpty):
		abortWith(c, http.StatusBadRequest, ErrorResponse{
			Error: "unsupported or empty file", Kind: kindBadRequest, Code: "UnsupportedMedia",
		})
	case errors.Is(err, media.ErrUnavailable):
		_ = c.Error(err)
		abortWith(c, http.StatusServiceUnavailable, ErrorResponse{
			Error: "media store unavailable", Kind: kindUnavailable, Code: "MediaUnavailable",
		})

	default:
		_ = c.Error(err)
		abortWith(c, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error", Kind: kindInternal, Code: "Internal",
		})
	}
}
