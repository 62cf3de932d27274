package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                    uuid PRIMARY KEY,
	slug                  text UNIQUE,
	name                  text NOT NULL,
	description           text NOT NULL DEFAULT '',
	venue                 text NOT NULL DEFAULT '',
	event_date            timestamptz NOT NULL,
	event_time            text NOT NULL DEFAULT '',
	registration_open_at  timestamptz,
	registration_close_at timestamptz,
	total_spots           integer NOT NULL DEFAULT 0 CHECK (total_spots >= 0),
	registration_mode     text NOT NULL DEFAULT 'none' CHECK (registration_mode IN ('internal', 'external', 'none')),
	external_url          text NOT NULL DEFAULT '',
	allow_guests          boolean NOT NULL DEFAULT true,
	capacity_override     integer NOT NULL DEFAULT 0 CHECK (capacity_override >= 0),
	status                text NOT NULL DEFAULT 'upcoming'
		CHECK (status IN ('upcoming', 'ongoing', 'completed', 'cancelled', 'postponed')),
	images                jsonb NOT NULL DEFAULT '[]'::jsonb,
	created_at            timestamptz NOT NULL DEFAULT now(),
	updated_at            timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT events_window_check CHECK (
		registration_open_at IS NULL OR registration_close_at IS NULL
		OR registration_open_at <= registration_close_at
	)
);

CREATE INDEX IF NOT EXISTS events_event_date_idx ON events (event_date);

CREATE TABLE IF NOT EXISTS tickets (
	id                uuid PRIMARY KEY,
	ticket_code       text NOT NULL,
	event_id          uuid NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	event_name        text NOT NULL,
	full_name         text NOT NULL,
	email             text NOT NULL,
	phone             text NOT NULL,
	student_id        text NOT NULL,
	gender            text NOT NULL,
	course            text NOT NULL,
	hosteler          boolean NOT NULL DEFAULT false,
	hostel            text NOT NULL DEFAULT '',
	payment_details   jsonb,
	status            text NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'used', 'cancelled')),
	qr_url            text,
	qr_media_id       text,
	email_status      text NOT NULL DEFAULT 'pending' CHECK (email_status IN ('pending', 'sent', 'failed')),
	created_at        timestamptz NOT NULL DEFAULT now(),
	status_changed_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT tickets_code_key UNIQUE (ticket_code),
	CONSTRAINT tickets_event_email_key UNIQUE (event_id, email),
	CONSTRAINT tickets_event_student_key UNIQUE (event_id, student_id)
);

CREATE INDEX IF NOT EXISTS tickets_event_created_idx ON tickets (event_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS event_tickets (
	event_id  uuid NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	ticket_id uuid NOT NULL REFERENCES tickets (id) ON DELETE CASCADE,
	PRIMARY KEY (event_id, ticket_id)
);

CREATE TABLE IF NOT EXISTS outbox_jobs (
	id           bigserial PRIMARY KEY,
	ticket_id    uuid NOT NULL REFERENCES tickets (id) ON DELETE CASCADE,
	ticket_code  text NOT NULL UNIQUE,
	attempts     integer NOT NULL DEFAULT 0,
	generation   integer NOT NULL DEFAULT 1,
	available_at timestamptz NOT NULL DEFAULT now(),
	locked_until timestamptz,
	done_at      timestamptz,
	last_error   text NOT NULL DEFAULT '',
	created_at   timestamptz NOT NULL DEFAULT now()
);

ALTER TABLE outbox_jobs ADD COLUMN IF NOT EXISTS generation integer NOT NULL DEFAULT 1;

CREATE INDEX IF NOT EXISTS outbox_jobs_due_idx ON outbox_jobs (available_at) WHERE done_at IS NULL;
`

// Migrate applies the schema. Every statement is idempotent, so it runs on
// each startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const op = "postgres.Migrate"

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	return nil
}
