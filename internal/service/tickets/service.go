// Package tickets is the administrative surface over issued tickets.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/auth"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media"
	"github.com/kirinyoku/clubtix/internal/repository"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/uow"
	"github.com/kirinyoku/clubtix/internal/validation"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Kicker wakes whatever processes outbox jobs.
type Kicker interface {
	Kick(ctx context.Context, ticketCode string)
}

type Service struct {
	store repository.Store
	uow   *uow.UoW
	cache *redisrepo.Cache
	media media.Gateway
	kick  Kicker
	log   *slog.Logger
	now   func() time.Time
}

func New(
	store repository.Store,
	cache *redisrepo.Cache,
	gw media.Gateway,
	kick Kicker,
	log *slog.Logger,
) *Service {
	return &Service{
		store: store,
		uow:   uow.NewUoW(store),
		cache: cache,
		media: gw,
		kick:  kick,
		log:   log,
		now:   time.Now,
	}
}

type ListInput struct {
	EventID     uuid.UUID
	Status      string
	EmailStatus string
	Page        int
	Limit       int
}

// List returns an event's tickets, newest first.
func (s *Service) List(ctx context.Context, in ListInput) (*domain.Page[domain.Ticket], error) {
	const op = "service.tickets.List"

	f := domain.TicketFilter{EventID: in.EventID, Page: in.Page, Limit: in.Limit}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if in.Status != "" {
		f.Status = domain.TicketStatus(in.Status)
		if !f.Status.Valid() {
			return nil, fmt.Errorf("%s:%w", op, validation.Invalid("status", "must be one of: active used cancelled"))
		}
	}
	if in.EmailStatus != "" {
		f.EmailStatus = domain.EmailStatus(in.EmailStatus)
		if !f.EmailStatus.Valid() {
			return nil, fmt.Errorf("%s:%w", op, validation.Invalid("emailStatus", "must be one of: pending sent failed"))
		}
	}

	if _, err := s.store.Events().Get(ctx, in.EventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	items, total, err := s.store.Tickets().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &domain.Page[domain.Ticket]{Items: items, Page: f.Page, Limit: f.Limit, Total: total}, nil
}

// find resolves ref as a ticket id (admins only) or a ticket code.
func find(ctx context.Context, repos repository.Repos, ref string, admin bool) (*domain.Ticket, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrTicketNotFound
	}

	var (
		t   *domain.Ticket
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		if !admin {
			return nil, ErrTicketNotFound
		}
		t, err = repos.Tickets().GetByID(ctx, id)
	} else {
		t, err = repos.Tickets().GetByCode(ctx, ref)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTicketNotFound
	}

	return t, err
}

// Get returns a ticket. Administrators may look it up by id or code; anyone
// else must present the code, which is the proof of holding the ticket.
func (s *Service) Get(ctx context.Context, ref string, caller auth.Identity) (*domain.Ticket, error) {
	const op = "service.tickets.Get"

	t, err := find(ctx, s.store, ref, caller.IsAdmin())
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return t, nil
}

// Transition moves a ticket to status.
//
// Returns:
//   - *domain.Ticket: the updated ticket.
//   - error: tickets.ErrTicketNotFound if ref matches no ticket.
//   - error: tickets.ErrInvalidTransition if the move is not allowed.
func (s *Service) Transition(ctx context.Context, ref string, status domain.TicketStatus) (*domain.Ticket, error) {
	const op = "service.tickets.Transition"

	if !status.Valid() {
		return nil, fmt.Errorf("%s:%w", op, validation.Invalid("status", "must be one of: active used cancelled"))
	}

	t, err := find(ctx, s.store, ref, true)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !t.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%s:%w: %s to %s", op, ErrInvalidTransition, t.Status, status)
	}

	err = s.store.Tickets().UpdateStatus(ctx, t.ID, t.Status, status, s.now())
	switch {
	case errors.Is(err, repository.ErrStaleState):
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidTransition)
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, t.EventID)

	updated, err := s.store.Tickets().GetByID(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return updated, nil
}

// Delete removes a ticket and frees its email and student id for the event.
// The QR image is deleted after commit.
func (s *Service) Delete(ctx context.Context, ref string) (*domain.Ticket, error) {
	const op = "service.tickets.Delete"

	var deleted domain.Ticket

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		t, err := find(ctx, tx, ref, true)
		if err != nil {
			return err
		}

		if err := tx.Events().UnlinkTicket(ctx, t.EventID, t.ID); err != nil {
			return err
		}
		if err := tx.Tickets().Delete(ctx, t.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}

		deleted = *t

		after(func(ctx context.Context) {
			s.invalidate(ctx, t.EventID)
			if t.QR == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			ref := domain.MediaRef{URL: t.QR.URL, MediaID: t.QR.MediaID, Kind: domain.MediaImage}
			if err := s.media.Delete(ctx, ref); err != nil {
				s.log.Warn("ticket qr not deleted", slog.String("media_id", ref.MediaID), slog.Any("err", err))
			}
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &deleted, nil
}

// CheckAvailability returns nil when neither email nor studentID is
// registered for the event, and *TakenError naming the first one that is.
func (s *Service) CheckAvailability(ctx context.Context, eventID uuid.UUID, email, studentID string) error {
	const op = "service.tickets.CheckAvailability"

	email = strings.ToLower(strings.TrimSpace(email))
	studentID = strings.TrimSpace(studentID)
	if email == "" && studentID == "" {
		return fmt.Errorf("%s:%w", op, validation.Invalid("email", "email or studentId is required"))
	}

	if _, err := s.store.Events().Get(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	field, err := s.store.Tickets().FindConflict(ctx, eventID, email, studentID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if field != "" {
		return fmt.Errorf("%s:%w", op, &TakenError{Field: field})
	}

	return nil
}

// ResendConfirmation queues the confirmation email again, rendering a QR
// first if the ticket has none.
func (s *Service) ResendConfirmation(ctx context.Context, ref string) (*domain.Ticket, error) {
	const op = "service.tickets.ResendConfirmation"

	var code string
	var id uuid.UUID

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		t, err := find(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketCancelled {
			return ErrTicketCancelled
		}

		if err := tx.Tickets().SetEmailStatus(ctx, t.ID, domain.EmailPending); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, t.ID, t.Code); err != nil {
			return err
		}

		code, id = t.Code, t.ID
		after(func(ctx context.Context) {
			if s.kick != nil {
				s.kick.Kick(context.WithoutCancel(ctx), code)
			}
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	t, err := s.store.Tickets().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return t, nil
}

func (s *Service) invalidate(ctx context.Context, eventID uuid.UUID) {
	refs := []string{eventID.String()}
	if e, err := s.store.Events().Get(ctx, eventID); err == nil && e.Slug != "" {
		refs = append(refs, e.Slug)
	}
	if err := s.cache.InvalidateEvent(context.WithoutCancel(ctx), refs...); err != nil {
		s.log.Warn("event cache invalidation failed", slog.String("event_id", eventID.String()), slog.Any("err", err))
	}
}
