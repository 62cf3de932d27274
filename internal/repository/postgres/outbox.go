package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type OutboxRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OutboxRepo) With(db DB) *OutboxRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OutboxRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Enqueue schedules the post-registration job for a ticket. A finished job
// for the same code is reopened with its attempts reset and its generation
// bumped.
func (r *OutboxRepo) Enqueue(ctx context.Context, ticketID uuid.UUID, code string) error {
	const op = "postgres.OutboxRepo.Enqueue"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO outbox_jobs (ticket_id, ticket_code) VALUES ($1, $2)
		 ON CONFLICT (ticket_code) DO UPDATE
		 SET attempts = 0, generation = outbox_jobs.generation + 1, available_at = now(), locked_until = NULL, done_at = NULL, last_error = ''`,
		ticketID, code,
	)

	return wrapDBErr(op, err)
}

// Claim leases up to limit due jobs. Rows locked by another worker are
// skipped, so concurrent workers never receive the same job.
func (r *OutboxRepo) Claim(ctx context.Context, limit int, lease time.Duration) ([]repository.OutboxJob, error) {
	const op = "postgres.OutboxRepo.Claim"

	rows, err := r.handle().Query(ctx,
		`UPDATE outbox_jobs j
		 SET attempts = j.attempts + 1, locked_until = now() + $2::interval
		 FROM (
			SELECT id FROM outbox_jobs
			WHERE done_at IS NULL
			  AND available_at <= now()
			  AND (locked_until IS NULL OR locked_until < now())
			ORDER BY available_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 ) due
		 WHERE j.id = due.id
		 RETURNING j.id, j.ticket_id, j.ticket_code, j.attempts, j.generation`,
		limit, lease,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	jobs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[repository.OutboxJob])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return jobs, nil
}

func (r *OutboxRepo) ClaimByCode(ctx context.Context, code string, lease time.Duration) (*repository.OutboxJob, error) {
	const op = "postgres.OutboxRepo.ClaimByCode"

	var j repository.OutboxJob
	err := r.handle().QueryRow(ctx,
		`UPDATE outbox_jobs
		 SET attempts = attempts + 1, locked_until = now() + $2::interval
		 WHERE ticket_code = $1
		   AND done_at IS NULL
		   AND (locked_until IS NULL OR locked_until < now())
		 RETURNING id, ticket_id, ticket_code, attempts, generation`,
		code, lease,
	).Scan(&j.ID, &j.TicketID, &j.TicketCode, &j.Attempts, &j.Generation)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &j, nil
}

func (r *OutboxRepo) Complete(ctx context.Context, id int64, lastErr string) error {
	const op = "postgres.OutboxRepo.Complete"

	_, err := r.handle().Exec(ctx,
		`UPDATE outbox_jobs SET done_at = now(), locked_until = NULL, last_error = $2 WHERE id = $1`,
		id, lastErr,
	)

	return wrapDBErr(op, err)
}

func (r *OutboxRepo) Retry(ctx context.Context, id int64, lastErr string, delay time.Duration) error {
	const op = "postgres.OutboxRepo.Retry"

	_, err := r.handle().Exec(ctx,
		`UPDATE outbox_jobs
		 SET available_at = now() + $3::interval, locked_until = NULL, last_error = $2
		 WHERE id = $1`,
		id, lastErr, delay,
	)

	return wrapDBErr(op, err)
}
