package domain

import "time"

type RegistrationStatus string

const (
	RegCancelled    RegistrationStatus = "CANCELLED"
	RegClosed       RegistrationStatus = "CLOSED"
	RegOpenExternal RegistrationStatus = "OPEN_EXTERNAL"
	RegFull         RegistrationStatus = "FULL"
	RegPast         RegistrationStatus = "PAST"
	RegComingSoon   RegistrationStatus = "COMING_SOON"
	RegOpenInternal RegistrationStatus = "OPEN_INTERNAL"
)

// Reason is the lower-case form reported to clients when registration is refused.
func (s RegistrationStatus) Reason() string {
	switch s {
	case RegCancelled:
		return "cancelled"
	case RegFull:
		return "full"
	case RegPast:
		return "past"
	case RegComingSoon:
		return "coming_soon"
	}
	return "closed"
}

// EvaluateRegistration derives the registration status of e. The first
// matching rule wins; activeCount is the number of non-cancelled tickets.
//
// If only one window bound is set the other side is unbounded. The close
// bound is inclusive.
func EvaluateRegistration(e *Event, activeCount int, now time.Time) RegistrationStatus {
	switch {
	case e.Status == EventCancelled:
		return RegCancelled
	case e.Registration.Mode == ModeNone:
		return RegClosed
	case e.Registration.Mode == ModeExternal && e.Registration.ExternalURL != "":
		return RegOpenExternal
	case e.Registration.Mode == ModeExternal:
		return RegClosed
	case e.Status == EventCompleted || e.Status == EventOngoing:
		return RegClosed
	case IsFull(e, activeCount):
		return RegFull
	}

	openAt, closeAt := e.RegistrationOpenAt, e.RegistrationCloseAt
	switch {
	case openAt == nil && closeAt == nil:
		if e.Status == EventUpcoming {
			return RegClosed
		}
		return RegPast
	case openAt != nil && now.Before(*openAt):
		return RegComingSoon
	case closeAt != nil && now.After(*closeAt):
		return RegClosed
	}

	return RegOpenInternal
}

func IsFull(e *Event, activeCount int) bool {
	c := e.EffectiveCapacity()
	return c > 0 && activeCount >= c
}

// SpotsLeft returns nil for unlimited events.
func SpotsLeft(e *Event, activeCount int) *int {
	c := e.EffectiveCapacity()
	if c == 0 {
		return nil
	}
	left := c - activeCount
	if left < 0 {
		left = 0
	}
	return &left
}

// EventView is an event together with its derived registration fields.
type EventView struct {
	Event
	EffectiveCapacity  int                `json:"effectiveCapacity"`
	SpotsLeft          *int               `json:"spotsLeft"`
	IsFull             bool               `json:"isFull"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
}

func NewEventView(e Event, activeCount int, now time.Time) EventView {
	return EventView{
		Event:              e,
		EffectiveCapacity:  e.EffectiveCapacity(),
		SpotsLeft:          SpotsLeft(&e, activeCount),
		IsFull:             IsFull(&e, activeCount),
		RegistrationStatus: EvaluateRegistration(&e, activeCount, now),
	}
}

// EventSummary is the list representation: a single thumbnail instead of
// the whole gallery.
type EventSummary struct {
	ID                 string             `json:"id"`
	Slug               string             `json:"slug,omitempty"`
	Name               string             `json:"name"`
	Venue              string             `json:"venue"`
	EventDate          time.Time          `json:"eventDate"`
	EventTime          string             `json:"eventTime,omitempty"`
	Status             EventStatus        `json:"status"`
	Mode               RegistrationMode   `json:"registrationMode"`
	SpotsLeft          *int               `json:"spotsLeft"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	Thumbnail          *MediaRef          `json:"thumbnail"`
}

func NewEventSummary(e Event, activeCount int, now time.Time) EventSummary {
	return EventSummary{
		ID:                 e.ID.String(),
		Slug:               e.Slug,
		Name:               e.Name,
		Venue:              e.Venue,
		EventDate:          e.EventDate,
		EventTime:          e.EventTime,
		Status:             e.Status,
		Mode:               e.Registration.Mode,
		SpotsLeft:          SpotsLeft(&e, activeCount),
		RegistrationStatus: EvaluateRegistration(&e, activeCount, now),
		Thumbnail:          e.Thumbnail(),
	}
}
