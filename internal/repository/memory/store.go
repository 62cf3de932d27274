// Package memory is an in-process repository.Store. It honours the same
// uniqueness, cascade and locking contracts as the Postgres store and backs
// the service and transport tests.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
)

// ErrSerialization stands in for a Postgres serialization failure. RunTx
// callers may return it to exercise retry paths.
var ErrSerialization = errors.New("memory: serialization failure")

type job struct {
	repository.OutboxJob
	availableAt time.Time
	lockedUntil time.Time
	done        bool
	lastErr     string
}

type state struct {
	events  map[uuid.UUID]domain.Event
	tickets map[uuid.UUID]domain.Ticket
	links   map[uuid.UUID]map[uuid.UUID]struct{}
	jobs    map[string]*job
	jobSeq  int64
}

func (st *state) clone() *state {
	cp := &state{
		events:  make(map[uuid.UUID]domain.Event, len(st.events)),
		tickets: make(map[uuid.UUID]domain.Ticket, len(st.tickets)),
		links:   make(map[uuid.UUID]map[uuid.UUID]struct{}, len(st.links)),
		jobs:    make(map[string]*job, len(st.jobs)),
		jobSeq:  st.jobSeq,
	}
	for id, e := range st.events {
		cp.events[id] = copyEvent(e)
	}
	for id, t := range st.tickets {
		cp.tickets[id] = copyTicket(t)
	}
	for id, set := range st.links {
		cp.links[id] = maps.Clone(set)
	}
	for code, j := range st.jobs {
		jj := *j
		cp.jobs[code] = &jj
	}
	return cp
}

func copyEvent(e domain.Event) domain.Event {
	e.Images = slices.Clone(e.Images)
	if e.RegistrationOpenAt != nil {
		t := *e.RegistrationOpenAt
		e.RegistrationOpenAt = &t
	}
	if e.RegistrationCloseAt != nil {
		t := *e.RegistrationCloseAt
		e.RegistrationCloseAt = &t
	}
	return e
}

func copyTicket(t domain.Ticket) domain.Ticket {
	t.PaymentDetails = slices.Clone(t.PaymentDetails)
	if t.QR != nil {
		qr := *t.QR
		t.QR = &qr
	}
	return t
}

// Store serializes all transactions behind one mutex, which is at least as
// strong as the per-event row locks the Postgres store relies on.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st: &state{
			events:  map[uuid.UUID]domain.Event{},
			tickets: map[uuid.UUID]domain.Ticket{},
			links:   map[uuid.UUID]map[uuid.UUID]struct{}{},
			jobs:    map[string]*job{},
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used for timestamps and outbox leases.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) guard(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunTx runs fn with exclusive access. Any error restores the state as it
// was before fn started.
func (s *Store) RunTx(
	ctx context.Context,
	_ *repository.TxOptions,
	fn func(ctx context.Context, tx repository.Repos) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	if err := fn(ctx, repos{s: s, tx: true}); err != nil {
		s.st = snapshot
		return err
	}

	return nil
}

func (s *Store) IsRetryable(err error) bool { return errors.Is(err, ErrSerialization) }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Events() repository.EventRepository   { return &eventRepo{repos{s: s}} }
func (s *Store) Tickets() repository.TicketRepository { return &ticketRepo{repos{s: s}} }
func (s *Store) Outbox() repository.OutboxRepository  { return &outboxRepo{repos{s: s}} }

// JobState is a read-only view of an outbox job.
type JobState struct {
	Attempts   int
	Generation int
	Done       bool
	LastErr    string
	Leased     bool
}

// Job reports the outbox job for a ticket code.
func (s *Store) Job(code string) (JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.st.jobs[code]
	if !ok {
		return JobState{}, false
	}
	return JobState{
		Attempts:   j.Attempts,
		Generation: j.Generation,
		Done:       j.done,
		LastErr:    j.lastErr,
		Leased:     j.lockedUntil.After(s.now()),
	}, true
}

type repos struct {
	s  *Store
	tx bool
}

func (r repos) Events() repository.EventRepository   { return &eventRepo{r} }
func (r repos) Tickets() repository.TicketRepository { return &ticketRepo{r} }
func (r repos) Outbox() repository.OutboxRepository  { return &outboxRepo{r} }
