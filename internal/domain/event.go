package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
	EventPostponed EventStatus = "postponed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventUpcoming, EventOngoing, EventCompleted, EventCancelled, EventPostponed:
		return true
	}
	return false
}

type RegistrationMode string

const (
	ModeInternal RegistrationMode = "internal"
	ModeExternal RegistrationMode = "external"
	ModeNone     RegistrationMode = "none"
)

func (m RegistrationMode) Valid() bool {
	switch m {
	case ModeInternal, ModeExternal, ModeNone:
		return true
	}
	return false
}

// RegistrationPolicy controls how attendees sign up for an event.
type RegistrationPolicy struct {
	Mode             RegistrationMode `json:"mode"`
	ExternalURL      string           `json:"externalUrl,omitempty"`
	AllowGuests      bool             `json:"allowGuests"`
	CapacityOverride int              `json:"capacityOverride"`
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaRaw   MediaKind = "raw"
)

// MediaRef points at an asset hosted by the object store.
type MediaRef struct {
	URL     string    `json:"url"`
	MediaID string    `json:"mediaId"`
	Kind    MediaKind `json:"kind"`
}

type Event struct {
	ID                  uuid.UUID          `json:"id"`
	Slug                string             `json:"slug,omitempty"`
	Name                string             `json:"name"`
	Description         string             `json:"description"`
	Venue               string             `json:"venue"`
	EventDate           time.Time          `json:"eventDate"`
	EventTime           string             `json:"eventTime,omitempty"`
	RegistrationOpenAt  *time.Time         `json:"registrationOpenAt,omitempty"`
	RegistrationCloseAt *time.Time         `json:"registrationCloseAt,omitempty"`
	TotalSpots          int                `json:"totalSpots"`
	Registration        RegistrationPolicy `json:"registration"`
	Status              EventStatus        `json:"status"`
	Images              []MediaRef         `json:"images"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// EffectiveCapacity is the ceiling on active tickets. Zero means unlimited.
func (e *Event) EffectiveCapacity() int {
	if e.Registration.CapacityOverride > 0 {
		return e.Registration.CapacityOverride
	}
	return e.TotalSpots
}

// Thumbnail returns the first image, if any.
func (e *Event) Thumbnail() *MediaRef {
	if len(e.Images) == 0 {
		return nil
	}
	img := e.Images[0]
	return &img
}

type EventSortField string

const (
	SortByEventDate EventSortField = "eventDate"
	SortByCreatedAt EventSortField = "createdAt"
	SortByName      EventSortField = "name"
)

type EventPeriod string

const (
	PeriodAny      EventPeriod = ""
	PeriodUpcoming EventPeriod = "upcoming"
	PeriodPast     EventPeriod = "past"
)

// EventFilter selects a page of events.
type EventFilter struct {
	Page      int
	Limit     int
	Status    EventStatus
	Period    EventPeriod
	Search    string
	SortBy    EventSortField
	SortDesc  bool
	Reference time.Time
}
