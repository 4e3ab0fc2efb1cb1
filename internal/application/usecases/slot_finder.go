package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

// SlotFinder selects the dates worth trying for a service and lists the
// free times on one of them.
type SlotFinder struct {
	clock  clock.Clock
	logger *slog.Logger
}

func NewSlotFinder(c clock.Clock, logger *slog.Logger) SlotFinder {
	if c == nil {
		c = clock.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return SlotFinder{clock: c, logger: logger}
}

// Incremental returns the offered dates strictly after the entry's
// watermark, ascending. With no watermark every offered date is returned.
func (f SlotFinder) Incremental(ctx context.Context, remote booking.Remote, entry booking.ServiceEntry, slotLength int) ([]string, error) {
	dates, err := f.offered(ctx, remote, entry, slotLength)
	if err != nil {
		return nil, err
	}
	return booking.DatesAfter(dates, entry.LastRegisteredDate), nil
}

// Windowed returns the offered dates in [max(start, tomorrow),
// start+maxFutureDays], ascending. Tomorrow is taken from the clock at call
// time so same-day slots are never tried.
func (f SlotFinder) Windowed(ctx context.Context, remote booking.Remote, entry booking.ServiceEntry, slotLength int, start time.Time, maxFutureDays int) ([]string, error) {
	dates, err := f.offered(ctx, remote, entry, slotLength)
	if err != nil {
		return nil, err
	}
	return booking.DatesInWindow(dates, start, maxFutureDays, f.clock.Now()), nil
}

// Times lists the free slots on date, one per distinct time. An empty list
// means no capacity and is not an error.
func (f SlotFinder) Times(ctx context.Context, remote booking.Remote, entry booking.ServiceEntry, date string, slotLength int) ([]booking.SlotCandidate, error) {
	slots, err := remote.Times(ctx, entry, date, slotLength)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(slots))
	out := make([]booking.SlotCandidate, 0, len(slots))
	for _, s := range slots {
		if _, dup := seen[s.Time]; dup {
			continue
		}
		seen[s.Time] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func (f SlotFinder) offered(ctx context.Context, remote booking.Remote, entry booking.ServiceEntry, slotLength int) ([]string, error) {
	raw, err := remote.Dates(ctx, entry, slotLength)
	if err != nil {
		return nil, errors.Wrapf(err, "dates for %s", entry.ServiceName)
	}
	dates, rejected := booking.NormalizeDates(raw)
	if len(rejected) > 0 {
		f.logger.Warn("ignoring malformed dates", "service", entry.ServiceName, "dates", rejected)
	}
	return dates, nil
}
