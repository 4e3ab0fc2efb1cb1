package postgres

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// WatermarkStore keeps watermarks in the watermarks table. A missing row
// means no watermark.
type WatermarkStore struct {
	q      Querier
	logger *slog.Logger
}

var _ watermark.Store = (*WatermarkStore)(nil)

func NewWatermarkStore(q Querier, logger *slog.Logger) *WatermarkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermarkStore{q: q, logger: logger}
}

func (s *WatermarkStore) Get(ctx context.Context, k watermark.Key) (string, error) {
	var date string
	err := s.q.QueryRow(ctx, `
SELECT to_char(last_registered_date, 'YYYY-MM-DD')
FROM watermarks
WHERE channel_id=$1 AND service_id=$2`, k.ChannelID, k.ServiceID).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", internaltypes.Mark(errors.Wrapf(err, "get watermark %s", k), internaltypes.ErrPersistence)
	}
	return date, nil
}

// Set upserts the date; the WHERE clause keeps the stored value monotonic.
func (s *WatermarkStore) Set(ctx context.Context, k watermark.Key, date string) error {
	if !booking.IsDate(date) {
		return internaltypes.Markf(internaltypes.ErrPersistence, "watermark %q is not YYYY-MM-DD", date)
	}
	tag, err := s.q.Exec(ctx, `
INSERT INTO watermarks(channel_id, service_id, last_registered_date)
VALUES ($1, $2, $3::date)
ON CONFLICT (channel_id, service_id) DO UPDATE
SET last_registered_date = EXCLUDED.last_registered_date, updated_at = now()
WHERE watermarks.last_registered_date < EXCLUDED.last_registered_date`, k.ChannelID, k.ServiceID, date)
	if err != nil {
		return internaltypes.Mark(errors.Wrapf(err, "set watermark %s", k), internaltypes.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("watermark not advanced", "key", k.String(), "proposed", date)
		return nil
	}
	s.logger.Info("watermark advanced", "key", k.String(), "to", date)
	return nil
}

func (s *WatermarkStore) List(ctx context.Context) ([]watermark.Entry, error) {
	rows, err := s.q.Query(ctx, `
SELECT channel_id, service_id, to_char(last_registered_date, 'YYYY-MM-DD')
FROM watermarks
ORDER BY channel_id, service_id`)
	if err != nil {
		return nil, internaltypes.Mark(errors.Wrap(err, "list watermarks"), internaltypes.ErrPersistence)
	}
	defer rows.Close()

	var out []watermark.Entry
	for rows.Next() {
		var e watermark.Entry
		if err := rows.Scan(&e.ChannelID, &e.ServiceID, &e.Date); err != nil {
			return nil, internaltypes.Mark(errors.Wrap(err, "scan watermark"), internaltypes.ErrPersistence)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, internaltypes.Mark(errors.Wrap(err, "list watermarks"), internaltypes.ErrPersistence)
	}
	return out, nil
}
