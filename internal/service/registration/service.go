// Package registration issues tickets for internally managed events.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/auth"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/ticketcode"
	"github.com/kirinyoku/clubtix/internal/uow"
	"github.com/kirinyoku/clubtix/internal/validation"
)

const maxCodeAttempts = 3

// errCodeCollision aborts a transaction whose minted code was taken, so the
// whole transaction can run again with a fresh code.
var errCodeCollision = errors.New("ticket code collision")

// Dispatcher runs the post-registration side effects of a ticket.
type Dispatcher interface {
	Dispatch(ctx context.Context, ticketCode string) error
}

type Config struct {
	// DispatchTimeout bounds the side effects run after commit.
	DispatchTimeout time.Duration
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	cache    *redisrepo.Cache
	dispatch Dispatcher
	validate *validation.Validator
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
	mint     func() string
}

func New(
	store repository.Store,
	cache *redisrepo.Cache,
	dispatch Dispatcher,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}

	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		cache:    cache,
		dispatch: dispatch,
		validate: validation.New(),
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		mint:     ticketcode.MintCode,
	}
}

// SetClock overrides the clock registration windows are evaluated against.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register issues a ticket for eventID.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID: the event to register for.
//   - caller: the authenticated identity, or the zero Identity for guests.
//   - in: attendee details.
//
// Returns:
//   - *domain.Ticket: the issued ticket, reloaded after its side effects ran.
//   - error: *validation.Error for invalid input.
//   - error: registration.ErrEventNotFound if the event does not exist.
//   - error: *registration.ExternalError if the event registers elsewhere.
//   - error: *registration.NotOpenError outside the registration window.
//   - error: registration.ErrEventFull when no spot is left.
//   - error: registration.ErrMembersOnly for guests of a members-only event.
//   - error: *registration.DuplicateAttendeeError if the email or student id is taken.
//   - error: registration.ErrCodeCollision if no unique code could be minted.
func (s *Service) Register(
	ctx context.Context,
	eventID uuid.UUID,
	caller auth.Identity,
	in Input,
) (*domain.Ticket, error) {
	const op = "service.registration.Register"

	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// Cheap gate outside the transaction; it is repeated under the row lock.
	e, err := s.store.Events().Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound(err))
	}
	active, err := s.store.Tickets().CountActive(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if err := gate(e, active, s.now(), caller); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var t domain.Ticket
	for attempt := 1; ; attempt++ {
		t = newTicket(s.mint(), eventID, in)

		err = s.uow.DoWithOpts(ctx, &repository.TxOptions{Isolation: repository.ReadCommitted}, func(
			ctx context.Context,
			tx repository.Repos,
			after func(uow.AfterCommit),
		) error {
			return s.issue(ctx, tx, after, &t, caller)
		})
		if !errors.Is(err, errCodeCollision) || attempt >= maxCodeAttempts {
			break
		}
		s.log.Warn("ticket code collision, minting again", slog.Int("attempt", attempt))
	}
	if errors.Is(err, errCodeCollision) {
		return nil, fmt.Errorf("%s:%w", op, ErrCodeCollision)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	got, err := s.store.Tickets().GetByID(ctx, t.ID)
	if err != nil {
		s.log.Warn("issued ticket not reloaded", slog.String("ticket_code", t.Code), slog.Any("err", err))
		return &t, nil
	}

	return got, nil
}

func (s *Service) issue(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	t *domain.Ticket,
	caller auth.Identity,
) error {
	e, err := tx.Events().GetForUpdate(ctx, t.EventID)
	if err != nil {
		return notFound(err)
	}

	active, err := tx.Tickets().CountActive(ctx, e.ID)
	if err != nil {
		return err
	}
	if err := gate(e, active, s.now(), caller); err != nil {
		return err
	}

	field, err := tx.Tickets().FindConflict(ctx, e.ID, t.Attendee.Email, t.Attendee.StudentID)
	if err != nil {
		return err
	}
	if field != "" {
		return &DuplicateAttendeeError{Field: field}
	}

	t.EventName = e.Name
	if err := tx.Tickets().Insert(ctx, t); err != nil {
		if field, ok := repository.ConflictField(err); ok {
			if field == repository.FieldTicketCode {
				return errCodeCollision
			}
			return &DuplicateAttendeeError{Field: field}
		}
		return err
	}

	if err := tx.Events().LinkTicket(ctx, e.ID, t.ID); err != nil {
		return err
	}
	if err := tx.Outbox().Enqueue(ctx, t.ID, t.Code); err != nil {
		return err
	}

	code, refs := t.Code, []string{e.ID.String(), e.Slug}
	after(func(ctx context.Context) {
		if err := s.cache.InvalidateEvent(context.WithoutCancel(ctx), refs...); err != nil {
			s.log.Warn("event cache invalidation failed", slog.Any("err", err))
		}
		s.dispatchNow(ctx, code)
	})

	return nil
}

// dispatchNow runs the side effects inline. A client that hangs up does not
// abort them; whatever does not finish is left to the outbox worker.
func (s *Service) dispatchNow(ctx context.Context, code string) {
	if s.dispatch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()

	if err := s.dispatch.Dispatch(ctx, code); err != nil {
		s.log.Warn("registration side effects incomplete", slog.String("ticket_code", code), slog.Any("err", err))
	}
}

func gate(e *domain.Event, active int, now time.Time, caller auth.Identity) error {
	switch st := domain.EvaluateRegistration(e, active, now); st {
	case domain.RegOpenInternal:
	case domain.RegOpenExternal:
		return &ExternalError{URL: e.Registration.ExternalURL}
	case domain.RegFull:
		return ErrEventFull
	default:
		return &NotOpenError{Reason: st.Reason()}
	}

	if !e.Registration.AllowGuests && caller.Anonymous() {
		return ErrMembersOnly
	}

	return nil
}

func newTicket(code string, eventID uuid.UUID, in Input) domain.Ticket {
	return domain.Ticket{
		ID:      uuid.New(),
		Code:    code,
		EventID: eventID,
		Attendee: domain.Attendee{
			FullName:  in.FullName,
			Email:     in.Email,
			Phone:     in.Phone,
			StudentID: in.StudentID,
			Gender:    in.Gender,
			Course:    in.Course,
			Hosteler:  in.Hosteler,
			Hostel:    in.Hostel,
		},
		PaymentDetails: in.PaymentDetails,
		Status:         domain.TicketActive,
		EmailStatus:    domain.EmailPending,
	}
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrEventNotFound
	}
	return err
}
