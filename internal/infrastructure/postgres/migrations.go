package postgres

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS watermarks (
	channel_id TEXT NOT NULL,
	service_id TEXT NOT NULL,
	last_registered_date DATE NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel_id, service_id)
);

CREATE TABLE IF NOT EXISTS booking_attempts (
	id UUID PRIMARY KEY,
	run_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	service_id TEXT NOT NULL,
	slot_date DATE NOT NULL,
	slot_time TEXT NOT NULL,
	state TEXT NOT NULL,
	reached_state TEXT NOT NULL,
	reservation_id TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	attempted_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_booking_attempts_service ON booking_attempts(channel_id, service_id, slot_date);
`

func Migrate(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, schemaSQL); err != nil {
		return internaltypes.Mark(errors.Wrap(err, "migrate"), internaltypes.ErrPersistence)
	}
	return nil
}
