package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.Event) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Event, error)
	// GetForUpdate reads the event and, inside a transaction, holds its
	// row lock until commit. Registrations for one event serialize on it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	Update(ctx context.Context, e *domain.Event) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f domain.EventFilter) ([]domain.Event, int, error)

	LinkTicket(ctx context.Context, eventID, ticketID uuid.UUID) error
	UnlinkTicket(ctx context.Context, eventID, ticketID uuid.UUID) error
	TicketIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
	HasTickets(ctx context.Context, eventID uuid.UUID) (bool, error)
}

type TicketRepository interface {
	// Insert fails with *UniqueViolationError on any unique key; email is
	// reported before studentId, studentId before ticketCode.
	Insert(ctx context.Context, t *domain.Ticket) error
	CountActive(ctx context.Context, eventID uuid.UUID) (int, error)
	CountActiveByEvents(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]int, error)
	Counts(ctx context.Context, eventID uuid.UUID) (domain.TicketCounts, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	GetByCode(ctx context.Context, code string) (*domain.Ticket, error)
	List(ctx context.Context, f domain.TicketFilter) ([]domain.Ticket, int, error)
	// UpdateStatus moves the ticket from one status to another and fails
	// with ErrStaleState if the ticket is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus, at time.Time) error
	AttachQR(ctx context.Context, id uuid.UUID, qr domain.QR) error
	SetEmailStatus(ctx context.Context, id uuid.UUID, s domain.EmailStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Ticket, error)
	// FindConflict returns the first field (email, then studentId) already
	// taken for the event, or "" when both are free. Empty inputs are skipped.
	FindConflict(ctx context.Context, eventID uuid.UUID, email, studentID string) (string, error)
}

// OutboxJob is a pending post-registration side effect for one ticket.
type OutboxJob struct {
	ID         int64
	TicketID   uuid.UUID
	TicketCode string
	Attempts   int
	// Generation counts how often the job was enqueued for this ticket.
	Generation int
}

type OutboxRepository interface {
	// Enqueue schedules the job for the ticket, resetting a finished one.
	Enqueue(ctx context.Context, ticketID uuid.UUID, code string) error
	Claim(ctx context.Context, limit int, lease time.Duration) ([]OutboxJob, error)
	// ClaimByCode returns ErrNotFound when the job is done, leased or absent.
	ClaimByCode(ctx context.Context, code string, lease time.Duration) (*OutboxJob, error)
	Complete(ctx context.Context, id int64, lastErr string) error
	Retry(ctx context.Context, id int64, lastErr string, delay time.Duration) error
}

type Repos interface {
	Events() EventRepository
	Tickets() TicketRepository
	Outbox() OutboxRepository
}

type Isolation int

const (
	// Serializable is the default isolation of RunTx.
	Serializable Isolation = iota
	ReadCommitted
)

type TxOptions struct {
	Isolation Isolation
}

// Store is the persistence root. Repos returned by Store itself run each
// statement on its own; the Repos passed to RunTx's fn share one transaction.
type Store interface {
	Repos
	RunTx(ctx context.Context, opts *TxOptions, fn func(ctx context.Context, tx Repos) error) error
	// IsRetryable reports whether a failed transaction may be retried as a whole.
	IsRetryable(err error) bool
	Ping(ctx context.Context) error
}
