package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// Journal appends every slot attempt to booking_attempts.
type Journal struct {
	q     Querier
	newID func() uuid.UUID
}

var _ booking.AttemptJournal = (*Journal)(nil)

func NewJournal(q Querier) *Journal {
	return &Journal{q: q, newID: uuid.New}
}

func (j *Journal) Record(ctx context.Context, r booking.AttemptRecord) error {
	_, err := j.q.Exec(ctx, `
INSERT INTO booking_attempts(id, run_id, channel_id, service_id, slot_date, slot_time, state, reached_state, reservation_id, phone, error_kind, error, attempted_at)
VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9,$10,$11,$12,$13)`,
		j.newID(), r.RunID, r.ChannelID, r.ServiceID, r.Date, r.Time, string(r.State), string(r.ReachedState),
		r.ReservationID, r.Phone, r.ErrorKind, r.Error, r.At,
	)
	if err != nil {
		return internaltypes.Mark(errors.Wrap(err, "record attempt"), internaltypes.ErrPersistence)
	}
	return nil
}
