package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketActive, TicketUsed, TicketCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a ticket may move from s to next.
// Nothing ever moves back to active.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case TicketActive:
		return next == TicketUsed || next == TicketCancelled
	case TicketUsed:
		return next == TicketCancelled
	}
	return false
}

type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

func (s EmailStatus) Valid() bool {
	switch s {
	case EmailPending, EmailSent, EmailFailed:
		return true
	}
	return false
}

// Attendee is the snapshot of the person taken at issuance.
type Attendee struct {
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	StudentID string `json:"studentId"`
	Gender    string `json:"gender"`
	Course    string `json:"course"`
	Hosteler  bool   `json:"hosteler"`
	Hostel    string `json:"hostel,omitempty"`
}

type QR struct {
	URL     string `json:"url"`
	MediaID string `json:"mediaId"`
}

type Ticket struct {
	ID              uuid.UUID       `json:"id"`
	Code            string          `json:"ticketCode"`
	EventID         uuid.UUID       `json:"eventId"`
	EventName       string          `json:"eventName"`
	Attendee        Attendee        `json:"attendee"`
	PaymentDetails  json.RawMessage `json:"paymentDetails,omitempty"`
	Status          TicketStatus    `json:"status"`
	QR              *QR             `json:"qr"`
	EmailStatus     EmailStatus     `json:"emailStatus"`
	CreatedAt       time.Time       `json:"createdAt"`
	StatusChangedAt time.Time       `json:"statusChangedAt"`
}

// TicketFilter selects a page of an event's tickets.
type TicketFilter struct {
	EventID     uuid.UUID
	Status      TicketStatus
	EmailStatus EmailStatus
	Page        int
	Limit       int
}

// TicketCounts groups an event's tickets by status.
type TicketCounts struct {
	Active       int `json:"active"`
	Used         int `json:"used"`
	Cancelled    int `json:"cancelled"`
	EmailPending int `json:"emailPending"`
	EmailSent    int `json:"emailSent"`
	EmailFailed  int `json:"emailFailed"`
}

// NonCancelled is the number of tickets that occupy capacity.
func (c TicketCounts) NonCancelled() int {
	return c.Active + c.Used
}

type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}
