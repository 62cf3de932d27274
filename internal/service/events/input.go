package events

import (
	"time"

	"github.com/kirinyoku/clubtix/internal/domain"
)

// Patch is a field of a partial update. Set distinguishes "leave as is"
// from "set to Value", and a nil Value clears the field.
type Patch[T any] struct {
	Set   bool
	Value *T
}

func Set[T any](v T) Patch[T] { return Patch[T]{Set: true, Value: &v} }
func Clear[T any]() Patch[T]   { return Patch[T]{Set: true} }

type PolicyInput struct {
	Mode             domain.RegistrationMode `json:"mode" validate:"omitempty,oneof=internal external none"`
	ExternalURL      string                  `json:"externalUrl" validate:"omitempty,http_url"`
	AllowGuests      *bool                   `json:"allowGuests"`
	CapacityOverride int                     `json:"capacityOverride" validate:"gte=0"`
}

type CreateInput struct {
	Slug                string             `json:"slug" validate:"omitempty,slug,max=80"`
	Name                string             `json:"name" validate:"required,max=200"`
	Description         string             `json:"description" validate:"max=10000"`
	Venue               string             `json:"venue" validate:"max=200"`
	EventDate           time.Time          `json:"eventDate" validate:"required"`
	EventTime           string             `json:"eventTime" validate:"omitempty,hhmm"`
	RegistrationOpenAt  *time.Time         `json:"registrationOpenAt"`
	RegistrationCloseAt *time.Time         `json:"registrationCloseAt"`
	TotalSpots          int                `json:"totalSpots" validate:"gte=0"`
	Registration        PolicyInput        `json:"registration"`
	Status              domain.EventStatus `json:"status" validate:"omitempty,oneof=upcoming ongoing completed cancelled postponed"`
}

type PolicyPatch struct {
	Mode             *domain.RegistrationMode
	ExternalURL      *string
	AllowGuests      *bool
	CapacityOverride *int
}

type UpdateInput struct {
	Slug                Patch[string]
	Name                *string
	Description         *string
	Venue               *string
	EventDate           *time.Time
	EventTime           Patch[string]
	RegistrationOpenAt  Patch[time.Time]
	RegistrationCloseAt Patch[time.Time]
	TotalSpots          *int
	Registration        PolicyPatch
	Status              *domain.EventStatus
}

type ListInput struct {
	Page      int
	Limit     int
	Status    string
	Period    string
	Search    string
	SortBy    string
	SortOrder string
}

// Stats summarizes an event's tickets for administrators.
type Stats struct {
	EventID            string                    `json:"eventId"`
	Tickets            domain.TicketCounts       `json:"tickets"`
	EffectiveCapacity  int                       `json:"effectiveCapacity"`
	SpotsLeft          *int                      `json:"spotsLeft"`
	IsFull             bool                      `json:"isFull"`
	RegistrationStatus domain.RegistrationStatus `json:"registrationStatus"`
}
