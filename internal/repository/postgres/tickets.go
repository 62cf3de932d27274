package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/repository"
)

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const ticketColumns = `id, ticket_code, event_id, event_name,
	full_name, email, phone, student_id, gender, course, hosteler, hostel,
	payment_details, status, qr_url, qr_media_id, email_status, created_at, status_changed_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t              domain.Ticket
		payment        []byte
		qrURL, qrMedia *string
	)

	err := row.Scan(
		&t.ID, &t.Code, &t.EventID, &t.EventName,
		&t.Attendee.FullName, &t.Attendee.Email, &t.Attendee.Phone, &t.Attendee.StudentID,
		&t.Attendee.Gender, &t.Attendee.Course, &t.Attendee.Hosteler, &t.Attendee.Hostel,
		&payment, &t.Status, &qrURL, &qrMedia, &t.EmailStatus, &t.CreatedAt, &t.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payment) > 0 {
		t.PaymentDetails = payment
	}
	if qrURL != nil {
		t.QR = &domain.QR{URL: *qrURL}
		if qrMedia != nil {
			t.QR.MediaID = *qrMedia
		}
	}

	return &t, nil
}

// Insert stores a new ticket.
//
// Returns:
//   - error: *repository.UniqueViolationError naming the field (email,
//     studentId or ticketCode) whose unique key was violated.
func (r *TicketRepo) Insert(ctx context.Context, t *domain.Ticket) error {
	const op = "postgres.TicketRepo.Insert"

	var payment any
	if len(t.PaymentDetails) > 0 {
		payment = []byte(t.PaymentDetails)
	}

	var qrURL, qrMedia *string
	if t.QR != nil {
		qrURL, qrMedia = &t.QR.URL, &t.QR.MediaID
	}

	err := r.handle().QueryRow(ctx,
		`INSERT INTO tickets (id, ticket_code, event_id, event_name,
			full_name, email, phone, student_id, gender, course, hosteler, hostel,
			payment_details, status, qr_url, qr_media_id, email_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING created_at, status_changed_at`,
		t.ID, t.Code, t.EventID, t.EventName,
		t.Attendee.FullName, t.Attendee.Email, t.Attendee.Phone, t.Attendee.StudentID,
		t.Attendee.Gender, t.Attendee.Course, t.Attendee.Hosteler, t.Attendee.Hostel,
		payment, t.Status, qrURL, qrMedia, t.EmailStatus,
	).Scan(&t.CreatedAt, &t.StatusChangedAt)

	return wrapDBErr(op, err)
}

func (r *TicketRepo) CountActive(ctx context.Context, eventID uuid.UUID) (int, error) {
	const op = "postgres.TicketRepo.CountActive"

	var n int
	err := r.handle().QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE event_id = $1 AND status <> 'cancelled'`, eventID,
	).Scan(&n)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func (r *TicketRepo) CountActiveByEvents(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	const op = "postgres.TicketRepo.CountActiveByEvents"

	out := make(map[uuid.UUID]int, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	rows, err := r.handle().Query(ctx,
		`SELECT event_id, count(*) FROM tickets
		 WHERE event_id = ANY($1) AND status <> 'cancelled'
		 GROUP BY event_id`,
		eventIDs,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *TicketRepo) Counts(ctx context.Context, eventID uuid.UUID) (domain.TicketCounts, error) {
	const op = "postgres.TicketRepo.Counts"

	var c domain.TicketCounts
	err := r.handle().QueryRow(ctx,
		`SELECT
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'used'),
			count(*) FILTER (WHERE status = 'cancelled'),
			count(*) FILTER (WHERE email_status = 'pending'),
			count(*) FILTER (WHERE email_status = 'sent'),
			count(*) FILTER (WHERE email_status = 'failed')
		 FROM tickets WHERE event_id = $1`,
		eventID,
	).Scan(&c.Active, &c.Used, &c.Cancelled, &c.EmailPending, &c.EmailSent, &c.EmailFailed)
	if err != nil {
		return c, wrapDBErr(op, err)
	}

	return c, nil
}

func (r *TicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.GetByID"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) GetByCode(ctx context.Context, code string) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.GetByCode"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket_code = $1`, code))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// List returns a page of an event's tickets, newest first with id as the
// tie-break, and the total number of matches.
func (r *TicketRepo) List(ctx context.Context, f domain.TicketFilter) ([]domain.Ticket, int, error) {
	const op = "postgres.TicketRepo.List"

	where := []string{"event_id = $1"}
	args := []any{f.EventID}

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.EmailStatus != "" {
		args = append(args, f.EmailStatus)
		where = append(where, fmt.Sprintf("email_status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	db := r.handle()

	var total int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM tickets WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM tickets WHERE %s
			ORDER BY created_at DESC, id DESC
			LIMIT $%d OFFSET $%d`, ticketColumns, cond, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make([]domain.Ticket, 0, f.Limit)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s:%w", op, err)
	}

	return out, total, nil
}

// UpdateStatus is a compare-and-set on status.
//
// Returns:
//   - error: repository.ErrNotFound if the ticket does not exist.
//   - error: repository.ErrStaleState if its status is no longer from.
func (r *TicketRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus, at time.Time) error {
	const op = "postgres.TicketRepo.UpdateStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE tickets SET status = $3, status_changed_at = $4
		 WHERE id = $1 AND status = $2`,
		id, from, to, at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return wrapDBErr(op, err)
	}
	if !exists {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return fmt.Errorf("%s:%w", op, repository.ErrStaleState)
}

func (r *TicketRepo) AttachQR(ctx context.Context, id uuid.UUID, qr domain.QR) error {
	const op = "postgres.TicketRepo.AttachQR"

	tag, err := r.handle().Exec(ctx,
		`UPDATE tickets SET qr_url = $2, qr_media_id = $3 WHERE id = $1`,
		id, qr.URL, qr.MediaID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *TicketRepo) SetEmailStatus(ctx context.Context, id uuid.UUID, s domain.EmailStatus) error {
	const op = "postgres.TicketRepo.SetEmailStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE tickets SET email_status = $2 WHERE id = $1`, id, s)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *TicketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.TicketRepo.Delete"

	tag, err := r.handle().Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// DeleteByEvent removes every ticket of the event and returns them so the
// caller can clean up their QR artifacts.
func (r *TicketRepo) DeleteByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.DeleteByEvent"

	rows, err := r.handle().Query(ctx,
		`DELETE FROM tickets WHERE event_id = $1 RETURNING `+ticketColumns, eventID)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *TicketRepo) FindConflict(ctx context.Context, eventID uuid.UUID, email, studentID string) (string, error) {
	const op = "postgres.TicketRepo.FindConflict"

	var emailTaken, studentTaken bool
	err := r.handle().QueryRow(ctx,
		`SELECT
			$2 <> '' AND EXISTS (SELECT 1 FROM tickets WHERE event_id = $1 AND email = $2),
			$3 <> '' AND EXISTS (SELECT 1 FROM tickets WHERE event_id = $1 AND student_id = $3)`,
		eventID, email, studentID,
	).Scan(&emailTaken, &studentTaken)
	if err != nil {
		return "", wrapDBErr(op, err)
	}

	switch {
	case emailTaken:
		return repository.FieldEmail, nil
	case studentTaken:
		return repository.FieldStudentID, nil
	}

	return "", nil
}
