package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type outboxRepo struct{ repos }

func (r *outboxRepo) Enqueue(_ context.Context, ticketID uuid.UUID, code string) error {
	const op = "memory.OutboxRepo.Enqueue"
	defer r.s.guard(r.tx)()

	if _, ok := r.s.st.tickets[ticketID]; !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	now := r.s.now()
	if j, ok := r.s.st.jobs[code]; ok {
		j.Attempts, j.availableAt, j.lockedUntil, j.done, j.lastErr = 0, now, time.Time{}, false, ""
		j.Generation++
		return nil
	}

	r.s.st.jobSeq++
	r.s.st.jobs[code] = &job{
		OutboxJob:   repository.OutboxJob{ID: r.s.st.jobSeq, TicketID: ticketID, TicketCode: code, Generation: 1},
		availableAt: now,
	}

	return nil
}

func (r *outboxRepo) claimable(j *job, now time.Time) bool {
	return !j.done && !j.availableAt.After(now) && !j.lockedUntil.After(now)
}

func (r *outboxRepo) Claim(_ context.Context, limit int, lease time.Duration) ([]repository.OutboxJob, error) {
	defer r.s.guard(r.tx)()

	now := r.s.now()

	var due []*job
	for _, j := range r.s.st.jobs {
		if r.claimable(j, now) {
			due = append(due, j)
		}
	}
	slices.SortFunc(due, func(a, b *job) int {
		if c := a.availableAt.Compare(b.availableAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]repository.OutboxJob, 0, len(due))
	for _, j := range due {
		j.Attempts++
		j.lockedUntil = now.Add(lease)
		out = append(out, j.OutboxJob)
	}

	return out, nil
}

func (r *outboxRepo) ClaimByCode(_ context.Context, code string, lease time.Duration) (*repository.OutboxJob, error) {
	const op = "memory.OutboxRepo.ClaimByCode"
	defer r.s.guard(r.tx)()

	now := r.s.now()

	// An explicit dispatch ignores available_at, like the Postgres query.
	j, ok := r.s.st.jobs[code]
	if !ok || j.done || j.lockedUntil.After(now) {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	j.Attempts++
	j.lockedUntil = now.Add(lease)
	out := j.OutboxJob

	return &out, nil
}

func (r *outboxRepo) find(id int64) *job {
	for _, j := range r.s.st.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (r *outboxRepo) Complete(_ context.Context, id int64, lastErr string) error {
	defer r.s.guard(r.tx)()

	if j := r.find(id); j != nil {
		j.done, j.lockedUntil, j.lastErr = true, time.Time{}, lastErr
	}
	return nil
}

func (r *outboxRepo) Retry(_ context.Context, id int64, lastErr string, delay time.Duration) error {
	defer r.s.guard(r.tx)()

	if j := r.find(id); j != nil {
		j.availableAt, j.lockedUntil, j.lastErr = r.s.now().Add(delay), time.Time{}, lastErr
	}
	return nil
}
