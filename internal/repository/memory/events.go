package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type eventRepo struct{ repos }

func (r *eventRepo) slugTaken(slug string, except uuid.UUID) bool {
	if slug == "" {
		return false
	}
	for id, e := range r.s.st.events {
		if id != except && e.Slug == slug {
			return true
		}
	}
	return false
}

func (r *eventRepo) Create(_ context.Context, e *domain.Event) error {
	const op = "memory.EventRepo.Create"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.events[e.ID]; ok {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}
	if r.slugTaken(e.Slug, e.ID) {
		return fmt.Errorf("%s:%w", op, &repository.UniqueViolationError{
			Field: repository.FieldSlug, Constraint: "events_slug_key",
		})
	}

	now := r.s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Images == nil {
		e.Images = []domain.MediaRef{}
	}
	r.s.st.events[e.ID] = copyEvent(*e)

	return nil
}

func (r *eventRepo) Get(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "memory.EventRepo.Get"
	defer r.s.guard(r.tx)()

	e, ok := r.s.st.events[id]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	cp := copyEvent(e)
	return &cp, nil
}

func (r *eventRepo) GetBySlug(_ context.Context, slug string) (*domain.Event, error) {
	const op = "memory.EventRepo.GetBySlug"
	defer r.s.guard(r.tx)()

	for _, e := range r.s.st.events {
		if slug != "" && e.Slug == slug {
			cp := copyEvent(e)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
}

func (r *eventRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return r.Get(ctx, id)
}

func (r *eventRepo) Update(_ context.Context, e *domain.Event) error {
	const op = "memory.EventRepo.Update"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.events[e.ID]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if r.slugTaken(e.Slug, e.ID) {
		return fmt.Errorf("%s:%w", op, &repository.UniqueViolationError{
			Field: repository.FieldSlug, Constraint: "events_slug_key",
		})
	}

	e.UpdatedAt = r.s.now()
	r.s.st.events[e.ID] = copyEvent(*e)

	return nil
}

func (r *eventRepo) Delete(_ context.Context, id uuid.UUID) error {
	const op = "memory.EventRepo.Delete"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.events[id]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	delete(r.s.st.events, id)
	delete(r.s.st.links, id)
	for tid, t := range r.s.st.tickets {
		if t.EventID == id {
			r.s.st.dropTicket(tid)
		}
	}

	return nil
}

func (r *eventRepo) List(_ context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	defer r.s.guard(r.tx)()

	search := strings.ToLower(strings.TrimSpace(f.Search))

	var matched []domain.Event
	for _, e := range r.s.st.events {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		switch f.Period {
		case domain.PeriodUpcoming:
			if e.EventDate.Before(f.Reference) {
				continue
			}
		case domain.PeriodPast:
			if !e.EventDate.Before(f.Reference) {
				continue
			}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Name), search) &&
			!strings.Contains(strings.ToLower(e.Description), search) &&
			!strings.Contains(strings.ToLower(e.Venue), search) {
			continue
		}
		matched = append(matched, copyEvent(e))
	}

	slices.SortFunc(matched, func(a, b domain.Event) int {
		var c int
		switch f.SortBy {
		case domain.SortByCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case domain.SortByName:
			c = cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		default:
			c = a.EventDate.Compare(b.EventDate)
		}
		if c == 0 {
			c = cmp.Compare(a.ID.String(), b.ID.String())
		}
		if f.SortDesc {
			c = -c
		}
		return c
	})

	return paginate(matched, f.Page, f.Limit), len(matched), nil
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return []T{}
	}
	from := (page - 1) * limit
	if from < 0 || from >= len(items) {
		return []T{}
	}
	to := min(from+limit, len(items))
	return items[from:to]
}

func (r *eventRepo) LinkTicket(_ context.Context, eventID, ticketID uuid.UUID) error {
	const op = "memory.EventRepo.LinkTicket"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.events[eventID]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if _, ok := r.s.st.tickets[ticketID]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	set, ok := r.s.st.links[eventID]
	if !ok {
		set = map[uuid.UUID]struct{}{}
		r.s.st.links[eventID] = set
	}
	set[ticketID] = struct{}{}

	return nil
}

func (r *eventRepo) UnlinkTicket(_ context.Context, eventID, ticketID uuid.UUID) error {
	defer r.s.guard(r.tx)()

	delete(r.s.st.links[eventID], ticketID)
	return nil
}

func (r *eventRepo) TicketIDs(_ context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	defer r.s.guard(r.tx)()

	ids := make([]uuid.UUID, 0, len(r.s.st.links[eventID]))
	for id := range r.s.st.links[eventID] {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return cmp.Compare(a.String(), b.String()) })

	return ids, nil
}

func (r *eventRepo) HasTickets(_ context.Context, eventID uuid.UUID) (bool, error) {
	defer r.s.guard(r.tx)()

	return len(r.s.st.links[eventID]) > 0, nil
}
