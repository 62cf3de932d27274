package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/clubtix/internal/repository"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *repository.TxOptions,
	fn func(ctx context.Context, tx repository.Repos) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil && opts.Isolation == repository.ReadCommitted {
		txOpts.IsoLevel = pgx.ReadCommitted
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, txRepos{s: s, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) IsRetryable(err error) bool { return IsRetryable(err) }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Events() repository.EventRepository   { return &EventRepo{pool: s.pool} }
func (s *Store) Tickets() repository.TicketRepository { return &TicketRepo{pool: s.pool} }
func (s *Store) Outbox() repository.OutboxRepository  { return &OutboxRepo{pool: s.pool} }

type txRepos struct {
	s  *Store
	tx pgx.Tx
}

func (t txRepos) Events() repository.EventRepository {
	return (&EventRepo{pool: t.s.pool}).With(t.tx)
}

func (t txRepos) Tickets() repository.TicketRepository {
	return (&TicketRepo{pool: t.s.pool}).With(t.tx)
}

func (t txRepos) Outbox() repository.OutboxRepository {
	return (&OutboxRepo{pool: t.s.pool}).With(t.tx)
}
