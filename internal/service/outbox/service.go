// Package outbox performs the side effects of a registration (QR image and
// confirmation email) from durable jobs, at least once.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/notify"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type QRRenderer interface {
	RenderQR(ctx context.Context, code string, previous *domain.QR) (domain.QR, error)
	Discard(ctx context.Context, qr domain.QR)
}

// Publisher announces a job to the workers of every replica.
type Publisher interface {
	PublishJob(ctx context.Context, ticketCode string) error
}

type Config struct {
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible to other workers.
	Lease       time.Duration
	JobTimeout  time.Duration
	RetryBase   time.Duration
	MaxAttempts int
	BatchSize   int
}

type Service struct {
	store repository.Store
	qr    QRRenderer
	mail  notify.Sender
	pub   Publisher
	log   *slog.Logger
	cfg   Config
	wake  chan string
}

func New(
	store repository.Store,
	qr QRRenderer,
	mail notify.Sender,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.Lease <= cfg.JobTimeout {
		cfg.Lease = 2 * cfg.JobTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	return &Service{
		store: store,
		qr:    qr,
		mail:  mail,
		log:   log,
		cfg:   cfg,
		wake:  make(chan string, 64),
	}
}

// SetPublisher routes Kick through p instead of the local worker.
func (s *Service) SetPublisher(p Publisher) { s.pub = p }

// Dispatch processes the job for code right away. A job that is already
// done or leased by another worker is left alone.
func (s *Service) Dispatch(ctx context.Context, code string) error {
	const op = "service.outbox.Dispatch"

	job, err := s.store.Outbox().ClaimByCode(ctx, code, s.cfg.Lease)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.process(ctx, *job); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Kick asks some worker to pick up the job for code soon.
func (s *Service) Kick(ctx context.Context, code string) {
	if s.pub != nil {
		err := s.pub.PublishJob(ctx, code)
		if err == nil {
			return
		}
		s.log.Warn("outbox publish failed, waking local worker", slog.String("ticket_code", code), slog.Any("err", err))
	}
	s.Wake(code)
}

// Wake nudges the local worker. When the worker is busy the nudge is
// dropped and the job waits for the next poll.
func (s *Service) Wake(code string) {
	select {
	case s.wake <- code:
	default:
	}
}

// process runs one claimed job and records the outcome. The outcome is
// written on a context detached from the job deadline.
func (s *Service) process(ctx context.Context, job repository.OutboxJob) error {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	runErr := s.run(jobCtx, job)
	cancel()

	ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	log := s.log.With(slog.String("ticket_code", job.TicketCode), slog.Int("attempt", job.Attempts))

	switch {
	case runErr == nil:
		return s.store.Outbox().Complete(ctx, job.ID, "")
	case job.Attempts >= s.cfg.MaxAttempts:
		log.Error("outbox job abandoned", slog.Any("err", runErr))
		if err := s.store.Outbox().Complete(ctx, job.ID, runErr.Error()); err != nil {
			return err
		}
		return runErr
	default:
		delay := s.backoff(job.Attempts)
		log.Warn("outbox job failed, will retry", slog.Duration("in", delay), slog.Any("err", runErr))
		if err := s.store.Outbox().Retry(ctx, job.ID, runErr.Error(), delay); err != nil {
			return err
		}
		return runErr
	}
}

func (s *Service) backoff(attempt int) time.Duration {
	const ceiling = 10 * time.Minute

	d := s.cfg.RetryBase
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// run attaches a QR if the ticket has none and sends the confirmation if it
// is still pending. A QR failure does not hold back the email; the job is
// retried for the QR alone afterwards.
func (s *Service) run(ctx context.Context, job repository.OutboxJob) error {
	t, err := s.store.Tickets().GetByCode(ctx, job.TicketCode)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var qrErr error
	if t.QR == nil {
		qr, err := s.qr.RenderQR(ctx, t.Code, nil)
		if err != nil {
			qrErr = err
		} else if err := s.store.Tickets().AttachQR(ctx, t.ID, qr); err != nil {
			s.qr.Discard(context.WithoutCancel(ctx), qr)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		} else {
			t.QR = &qr
		}
	}

	if t.EmailStatus == domain.EmailPending {
		if err := s.confirm(ctx, t, job.Generation); err != nil {
			return err
		}
	}

	return qrErr
}

func (s *Service) confirm(ctx context.Context, t *domain.Ticket, generation int) error {
	e, err := s.store.Events().Get(ctx, t.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c := notify.Confirmation{
		To:           t.Attendee.Email,
		AttendeeName: t.Attendee.FullName,
		EventName:    e.Name,
		EventDate:    e.EventDate,
		EventTime:    e.EventTime,
		TicketCode:   t.Code,
		Generation:   generation,
	}
	if t.QR != nil {
		c.QRURL = t.QR.URL
	}

	status := domain.EmailSent
	if err := s.mail.SendRegistration(ctx, c); err != nil {
		status = domain.EmailFailed
		s.log.Warn("confirmation email failed", slog.String("ticket_code", t.Code), slog.Any("err", err))
	}

	err = s.store.Tickets().SetEmailStatus(ctx, t.ID, status)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
