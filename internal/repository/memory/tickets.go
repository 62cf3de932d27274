package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type ticketRepo struct{ repos }

// dropTicket removes a ticket with its link and outbox job.
func (st *state) dropTicket(id uuid.UUID) {
	t, ok := st.tickets[id]
	if !ok {
		return
	}
	delete(st.tickets, id)
	delete(st.links[t.EventID], id)
	delete(st.jobs, t.Code)
}

func (r *ticketRepo) Insert(_ context.Context, t *domain.Ticket) error {
	const op = "memory.TicketRepo.Insert"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.events[t.EventID]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	// Same order as the Postgres constraints are reported in.
	for _, other := range r.s.st.tickets {
		if other.EventID == t.EventID && other.Attendee.Email == t.Attendee.Email {
			return fmt.Errorf("%s:%w", op, &repository.UniqueViolationError{
				Field: repository.FieldEmail, Constraint: "tickets_event_email_key",
			})
		}
	}
	for _, other := range r.s.st.tickets {
		if other.EventID == t.EventID && other.Attendee.StudentID == t.Attendee.StudentID {
			return fmt.Errorf("%s:%w", op, &repository.UniqueViolationError{
				Field: repository.FieldStudentID, Constraint: "tickets_event_student_key",
			})
		}
	}
	for _, other := range r.s.st.tickets {
		if other.Code == t.Code {
			return fmt.Errorf("%s:%w", op, &repository.UniqueViolationError{
				Field: repository.FieldTicketCode, Constraint: "tickets_code_key",
			})
		}
	}
	if _, ok := r.s.st.tickets[t.ID]; ok {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	now := r.s.now()
	t.CreatedAt, t.StatusChangedAt = now, now
	r.s.st.tickets[t.ID] = copyTicket(*t)

	return nil
}

func (r *ticketRepo) countActive(eventID uuid.UUID) int {
	n := 0
	for _, t := range r.s.st.tickets {
		if t.EventID == eventID && t.Status != domain.TicketCancelled {
			n++
		}
	}
	return n
}

func (r *ticketRepo) CountActive(_ context.Context, eventID uuid.UUID) (int, error) {
	defer r.s.guard(r.tx)()
	return r.countActive(eventID), nil
}

func (r *ticketRepo) CountActiveByEvents(_ context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	defer r.s.guard(r.tx)()

	out := make(map[uuid.UUID]int, len(eventIDs))
	for _, id := range eventIDs {
		if n := r.countActive(id); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (r *ticketRepo) Counts(_ context.Context, eventID uuid.UUID) (domain.TicketCounts, error) {
	defer r.s.guard(r.tx)()

	var c domain.TicketCounts
	for _, t := range r.s.st.tickets {
		if t.EventID != eventID {
			continue
		}
		switch t.Status {
		case domain.TicketActive:
			c.Active++
		case domain.TicketUsed:
			c.Used++
		case domain.TicketCancelled:
			c.Cancelled++
		}
		switch t.EmailStatus {
		case domain.EmailPending:
			c.EmailPending++
		case domain.EmailSent:
			c.EmailSent++
		case domain.EmailFailed:
			c.EmailFailed++
		}
	}
	return c, nil
}

func (r *ticketRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "memory.TicketRepo.GetByID"
	defer r.s.guard(r.tx)()

	t, ok := r.s.st.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	cp := copyTicket(t)
	return &cp, nil
}

func (r *ticketRepo) GetByCode(_ context.Context, code string) (*domain.Ticket, error) {
	const op = "memory.TicketRepo.GetByCode"
	defer r.s.guard(r.tx)()

	for _, t := range r.s.st.tickets {
		if t.Code == code {
			cp := copyTicket(t)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
}

func (r *ticketRepo) List(_ context.Context, f domain.TicketFilter) ([]domain.Ticket, int, error) {
	defer r.s.guard(r.tx)()

	var matched []domain.Ticket
	for _, t := range r.s.st.tickets {
		if t.EventID != f.EventID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.EmailStatus != "" && t.EmailStatus != f.EmailStatus {
			continue
		}
		matched = append(matched, copyTicket(t))
	}

	slices.SortFunc(matched, func(a, b domain.Ticket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})

	return paginate(matched, f.Page, f.Limit), len(matched), nil
}

func (r *ticketRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.TicketStatus, at time.Time) error {
	const op = "memory.TicketRepo.UpdateStatus"
	defer r.s.guard(r.tx)()

	t, ok := r.s.st.tickets[id]
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if t.Status != from {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleState)
	}

	t.Status, t.StatusChangedAt = to, at
	r.s.st.tickets[id] = t

	return nil
}

func (r *ticketRepo) AttachQR(_ context.Context, id uuid.UUID, qr domain.QR) error {
	const op = "memory.TicketRepo.AttachQR"
	defer r.s.guard(r.tx)()

	t, ok := r.s.st.tickets[id]
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	t.QR = &qr
	r.s.st.tickets[id] = t

	return nil
}

func (r *ticketRepo) SetEmailStatus(_ context.Context, id uuid.UUID, s domain.EmailStatus) error {
	const op = "memory.TicketRepo.SetEmailStatus"
	defer r.s.guard(r.tx)()

	t, ok := r.s.st.tickets[id]
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	t.EmailStatus = s
	r.s.st.tickets[id] = t

	return nil
}

func (r *ticketRepo) Delete(_ context.Context, id uuid.UUID) error {
	const op = "memory.TicketRepo.Delete"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.tickets[id]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	r.s.st.dropTicket(id)

	return nil
}

func (r *ticketRepo) DeleteByEvent(_ context.Context, eventID uuid.UUID) ([]domain.Ticket, error) {
	defer r.s.guard(r.tx)()

	var out []domain.Ticket
	for id, t := range r.s.st.tickets {
		if t.EventID == eventID {
			out = append(out, copyTicket(t))
			r.s.st.dropTicket(id)
		}
	}
	return out, nil
}

func (r *ticketRepo) FindConflict(_ context.Context, eventID uuid.UUID, email, studentID string) (string, error) {
	defer r.s.guard(r.tx)()

	studentTaken := false
	for _, t := range r.s.st.tickets {
		if t.EventID != eventID {
			continue
		}
		if email != "" && t.Attendee.Email == email {
			return repository.FieldEmail, nil
		}
		if studentID != "" && t.Attendee.StudentID == studentID {
			studentTaken = true
		}
	}
	if studentTaken {
		return repository.FieldStudentID, nil
	}
	return "", nil
}
