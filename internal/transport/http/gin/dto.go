package httpgin

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/service/events"
)

// Optional tells an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}

	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v

	return nil
}

func (o Optional[T]) patch() events.Patch[T] {
	return events.Patch[T]{Set: o.Set, Value: o.Value}
}

type UpdatePolicyRequest struct {
	Mode             *domain.RegistrationMode `json:"mode"`
	ExternalURL      *string                  `json:"externalUrl"`
	AllowGuests      *bool                    `json:"allowGuests"`
	CapacityOverride *int                     `json:"capacityOverride"`
}

type UpdateEventRequest struct {
	Slug                Optional[string]    `json:"slug" swaggertype:"string"`
	Name                *string             `json:"name"`
	Description         *string             `json:"description"`
	Venue               *string             `json:"venue"`
	EventDate           *time.Time          `json:"eventDate"`
	EventTime           Optional[string]    `json:"eventTime" swaggertype:"string"`
	RegistrationOpenAt  Optional[time.Time] `json:"registrationOpenAt" swaggertype:"string"`
	RegistrationCloseAt Optional[time.Time] `json:"registrationCloseAt" swaggertype:"string"`
	TotalSpots          *int                `json:"totalSpots"`
	Registration        UpdatePolicyRequest `json:"registration"`
	Status              *domain.EventStatus `json:"status"`
}

func (r UpdateEventRequest) input() events.UpdateInput {
	return events.UpdateInput{
		Slug:                r.Slug.patch(),
		Name:                r.Name,
		Description:         r.Description,
		Venue:               r.Venue,
		EventDate:           r.EventDate,
		EventTime:           r.EventTime.patch(),
		RegistrationOpenAt:  r.RegistrationOpenAt.patch(),
		RegistrationCloseAt: r.RegistrationCloseAt.patch(),
		TotalSpots:          r.TotalSpots,
		Status:              r.Status,
		Registration: events.PolicyPatch{
			Mode:             r.Registration.Mode,
			ExternalURL:      r.Registration.ExternalURL,
			AllowGuests:      r.Registration.AllowGuests,
			CapacityOverride: r.Registration.CapacityOverride,
		},
	}
}

type TransitionRequest struct {
	Status domain.TicketStatus `json:"status" binding:"required"`
}

type AvailabilityRequest struct {
	EventID   string `json:"eventId" binding:"required,uuid"`
	Email     string `json:"email"`
	StudentID string `json:"studentId"`
}

type AvailabilityResponse struct {
	Available bool `json:"available"`
}

type TicketResponse struct {
	Ticket *domain.Ticket `json:"ticket"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Code        string `json:"code,omitempty"`
	Field       string `json:"field,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ExternalURL string `json:"externalUrl,omitempty"`
}
