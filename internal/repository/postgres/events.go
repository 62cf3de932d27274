package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const eventColumns = `id, slug, name, description, venue, event_date, event_time,
	registration_open_at, registration_close_at, total_spots,
	registration_mode, external_url, allow_guests, capacity_override,
	status, images, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e      domain.Event
		slug   *string
		images []byte
	)

	err := row.Scan(
		&e.ID, &slug, &e.Name, &e.Description, &e.Venue, &e.EventDate, &e.EventTime,
		&e.RegistrationOpenAt, &e.RegistrationCloseAt, &e.TotalSpots,
		&e.Registration.Mode, &e.Registration.ExternalURL, &e.Registration.AllowGuests, &e.Registration.CapacityOverride,
		&e.Status, &images, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if slug != nil {
		e.Slug = *slug
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &e.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
	}
	if e.Images == nil {
		e.Images = []domain.MediaRef{}
	}

	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeImages(images []domain.MediaRef) ([]byte, error) {
	if images == nil {
		images = []domain.MediaRef{}
	}
	return json.Marshal(images)
}

// Create inserts a new event. CreatedAt and UpdatedAt are set by the database
// and written back into e.
//
// Returns:
//   - error: *repository.UniqueViolationError (field slug) if the slug is taken.
func (r *EventRepo) Create(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Create"

	images, err := encodeImages(e.Images)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	err = r.handle().QueryRow(ctx,
		`INSERT INTO events (id, slug, name, description, venue, event_date, event_time,
			registration_open_at, registration_close_at, total_spots,
			registration_mode, external_url, allow_guests, capacity_override, status, images)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING created_at, updated_at`,
		e.ID, nullIfEmpty(e.Slug), e.Name, e.Description, e.Venue, e.EventDate, e.EventTime,
		e.RegistrationOpenAt, e.RegistrationCloseAt, e.TotalSpots,
		e.Registration.Mode, e.Registration.ExternalURL, e.Registration.AllowGuests, e.Registration.CapacityOverride,
		e.Status, images,
	).Scan(&e.CreatedAt, &e.UpdatedAt)

	return wrapDBErr(op, err)
}

func (r *EventRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

func (r *EventRepo) GetBySlug(ctx context.Context, slug string) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetBySlug"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE slug = $1`, slug))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

// GetForUpdate reads the event with FOR UPDATE. Outside a transaction the
// lock is released as soon as the statement finishes.
func (r *EventRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetForUpdate"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Update"

	images, err := encodeImages(e.Images)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	err = r.handle().QueryRow(ctx,
		`UPDATE events SET
			slug = $2, name = $3, description = $4, venue = $5, event_date = $6, event_time = $7,
			registration_open_at = $8, registration_close_at = $9, total_spots = $10,
			registration_mode = $11, external_url = $12, allow_guests = $13, capacity_override = $14,
			status = $15, images = $16, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		e.ID, nullIfEmpty(e.Slug), e.Name, e.Description, e.Venue, e.EventDate, e.EventTime,
		e.RegistrationOpenAt, e.RegistrationCloseAt, e.TotalSpots,
		e.Registration.Mode, e.Registration.ExternalURL, e.Registration.AllowGuests, e.Registration.CapacityOverride,
		e.Status, images,
	).Scan(&e.UpdatedAt)

	return wrapDBErr(op, err)
}

// Delete removes the event. Tickets, links and outbox jobs go with it
// through ON DELETE CASCADE.
func (r *EventRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.EventRepo.Delete"

	tag, err := r.handle().Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

var eventSortColumns = map[domain.EventSortField]string{
	domain.SortByEventDate: "event_date",
	domain.SortByCreatedAt: "created_at",
	domain.SortByName:      "lower(name)",
}

// List returns one page of events matching f along with the total number of
// matches.
//
// Parameters:
//   - f.Search: case-insensitive substring of name, description or venue.
//   - f.Period: upcoming keeps event_date >= f.Reference, past the rest.
//   - f.Page, f.Limit: 1-based page and page size, already clamped by the caller.
func (r *EventRepo) List(ctx context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	const op = "postgres.EventRepo.List"

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	switch f.Period {
	case domain.PeriodUpcoming:
		where = append(where, "event_date >= "+arg(f.Reference))
	case domain.PeriodPast:
		where = append(where, "event_date < "+arg(f.Reference))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR description ILIKE %[1]s OR venue ILIKE %[1]s)", p))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	db := r.handle()

	var total int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM events`+cond, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	col, ok := eventSortColumns[f.SortBy]
	if !ok {
		col = eventSortColumns[domain.SortByEventDate]
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	limit := arg(f.Limit)
	offset := arg((f.Page - 1) * f.Limit)

	rows, err := db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events%s ORDER BY %s %s, id %s LIMIT %s OFFSET %s`,
			eventColumns, cond, col, dir, dir, limit, offset),
		args...,
	)
	if err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make([]domain.Event, 0, f.Limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, wrapDBErr(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s:%w", op, err)
	}

	return out, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LinkTicket is idempotent.
func (r *EventRepo) LinkTicket(ctx context.Context, eventID, ticketID uuid.UUID) error {
	const op = "postgres.EventRepo.LinkTicket"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO event_tickets (event_id, ticket_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		eventID, ticketID,
	)

	return wrapDBErr(op, err)
}

func (r *EventRepo) UnlinkTicket(ctx context.Context, eventID, ticketID uuid.UUID) error {
	const op = "postgres.EventRepo.UnlinkTicket"

	_, err := r.handle().Exec(ctx,
		`DELETE FROM event_tickets WHERE event_id = $1 AND ticket_id = $2`,
		eventID, ticketID,
	)

	return wrapDBErr(op, err)
}

func (r *EventRepo) TicketIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	const op = "postgres.EventRepo.TicketIDs"

	rows, err := r.handle().Query(ctx,
		`SELECT ticket_id FROM event_tickets WHERE event_id = $1 ORDER BY ticket_id`, eventID)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return ids, nil
}

func (r *EventRepo) HasTickets(ctx context.Context, eventID uuid.UUID) (bool, error) {
	const op = "postgres.EventRepo.HasTickets"

	var exists bool
	err := r.handle().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_tickets WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return exists, nil
}
