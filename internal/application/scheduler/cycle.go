package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/example/qmatic-scheduler/internal/application/usecases"
	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// ChannelSource yields the configured channels at the start of a cycle.
type ChannelSource interface {
	Channels(ctx context.Context) ([]booking.Channel, error)
}

type CycleConfig struct {
	Channels ChannelSource
	Sessions booking.SessionOpener
	Store    watermark.Store
	Pipeline *usecases.Pipeline
	Notifier booking.Notifier
	// NewRunID defaults to uuid.NewString.
	NewRunID func() string
	Logger   *slog.Logger
}

// Cycle sweeps every channel and service once, in configured order.
type Cycle struct {
	channels ChannelSource
	sessions booking.SessionOpener
	store    watermark.Store
	pipeline *usecases.Pipeline
	notifier booking.Notifier
	newRunID func() string
	logger   *slog.Logger
}

func NewCycle(cfg CycleConfig) *Cycle {
	c := &Cycle{
		channels: cfg.Channels,
		sessions: cfg.Sessions,
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		notifier: cfg.Notifier,
		newRunID: cfg.NewRunID,
		logger:   cfg.Logger,
	}
	if c.notifier == nil {
		c.notifier = booking.NopNotifier{}
	}
	if c.newRunID == nil {
		c.newRunID = uuid.NewString
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type Report struct {
	RunID     string
	Mode      usecases.Mode
	Services  int
	Confirmed int
	// Advanced counts watermarks moved forward.
	Advanced int
	Failed   int
}

// RunIncremental processes every service from its watermark on, sharing one
// session across the sweep. A service's watermark is committed once, after
// the service is done, and only to a date with a confirmed visit.
// Authentication failures end the cycle.
func (c *Cycle) RunIncremental(ctx context.Context) (Report, error) {
	rep := Report{RunID: c.newRunID(), Mode: usecases.Incremental}
	logger := c.logger.With("run_id", rep.RunID, "mode", rep.Mode.String())
	channels, err := c.channels.Channels(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "load channels")
	}
	logger.Info("cycle started", "channels", len(channels))

	var remote booking.Remote
	defer func() {
		if remote != nil {
			_ = remote.Close()
		}
	}()

	for _, ch := range channels {
		for _, entry := range ch.Services {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if remote == nil {
				if remote, err = c.sessions.Open(ctx); err != nil {
					remote = nil
					logger.Error("session failed, ending cycle", "kind", internaltypes.Kind(err), "err", err)
					c.reportAll(ctx, channels, fmt.Sprintf("Nie udało się nawiązać sesji: %v", err))
					return rep, err
				}
			}
			rep.Services++

			key := watermark.Key{ChannelID: ch.ID, ServiceID: entry.ServiceID}
			stored, err := c.store.Get(ctx, key)
			if err != nil && !errors.Is(err, internaltypes.ErrNotFound) {
				logger.Warn("watermark read failed, using configured value", "key", key.String(), "err", err)
			}
			entry = entry.WithWatermark(booking.Latest(entry.LastRegisteredDate, stored))

			res, err := c.service(ctx, remote, rep.RunID, ch, entry, usecases.Incremental,
				func(slotLength int) ([]string, error) {
					return c.pipeline.Finder().Incremental(ctx, remote, entry, slotLength)
				})
			rep.Confirmed += res.Confirmed
			c.commit(ctx, logger, ch, key, entry.LastRegisteredDate, res, &rep)

			switch {
			case err == nil:
			case ctx.Err() != nil:
				return rep, ctx.Err()
			case errors.Is(err, internaltypes.ErrAuthentication):
				rep.Failed++
				logger.Error("session rejected, ending cycle", "service", entry.ServiceName, "err", err)
				c.reportAll(ctx, channels, fmt.Sprintf("%s (%s): sesja odrzucona, cykl przerwany: %v", entry.ServiceName, ch.Name, err))
				return rep, err
			default:
				rep.Failed++
				logger.Error("service failed", "channel", ch.Name, "service", entry.ServiceName, "kind", internaltypes.Kind(err), "err", err)
				c.report(ctx, ch, fmt.Sprintf("Błąd obsługi usługi %s: %v", entry.ServiceName, err))
			}
		}
	}
	logger.Info("cycle finished", "services", rep.Services, "confirmed", rep.Confirmed, "advanced", rep.Advanced, "failed", rep.Failed)
	return rep, nil
}

// RunReset fills the window [max(start, tomorrow), start+maxFutureDays] for
// every service with the watermark ignored. Each service gets its own
// session. Watermarks are never written.
func (c *Cycle) RunReset(ctx context.Context, start time.Time, maxFutureDays int) (Report, error) {
	rep := Report{RunID: c.newRunID(), Mode: usecases.Reset}
	logger := c.logger.With("run_id", rep.RunID, "mode", rep.Mode.String())
	channels, err := c.channels.Channels(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "load channels")
	}
	logger.Info("cycle started", "channels", len(channels), "start", start.Format(booking.DateLayout), "max_future_days", maxFutureDays)

	for _, ch := range channels {
		for _, entry := range ch.Services {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Services++
			entry = entry.WithoutWatermark()

			res, err := c.resetService(ctx, rep.RunID, ch, entry, start, maxFutureDays)
			rep.Confirmed += res.Confirmed
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			logger.Error("service failed", "channel", ch.Name, "service", entry.ServiceName, "kind", internaltypes.Kind(err), "err", err)
			c.report(ctx, ch, fmt.Sprintf("Błąd obsługi usługi %s (reset): %v", entry.ServiceName, err))
		}
	}
	logger.Info("cycle finished", "services", rep.Services, "confirmed", rep.Confirmed, "failed", rep.Failed)
	return rep, nil
}

func (c *Cycle) resetService(ctx context.Context, runID string, ch booking.Channel, entry booking.ServiceEntry, start time.Time, maxFutureDays int) (usecases.ServiceResult, error) {
	remote, err := c.sessions.Open(ctx)
	if err != nil {
		return usecases.ServiceResult{}, err
	}
	defer remote.Close()
	return c.service(ctx, remote, runID, ch, entry, usecases.Reset, func(slotLength int) ([]string, error) {
		return c.pipeline.Finder().Windowed(ctx, remote, entry, slotLength, start, maxFutureDays)
	})
}

// service resolves the slot length, selects dates and runs the pipeline. A
// service the branch no longer offers is skipped.
func (c *Cycle) service(ctx context.Context, remote booking.Remote, runID string, ch booking.Channel, entry booking.ServiceEntry, mode usecases.Mode, dates func(slotLength int) ([]string, error)) (usecases.ServiceResult, error) {
	logger := c.logger.With("run_id", runID, "channel", ch.Name, "service", entry.ServiceName)
	details, err := remote.Service(ctx, entry.BranchID, entry.ServiceID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		logger.Warn("service not offered, skipping", "branch_id", entry.BranchID, "service_id", entry.ServiceID)
		return usecases.ServiceResult{}, nil
	}
	if err != nil {
		return usecases.ServiceResult{}, err
	}
	slotLength := details.SlotLength(entry.Adult)

	ds, err := dates(slotLength)
	if err != nil {
		return usecases.ServiceResult{}, err
	}
	if len(ds) == 0 {
		logger.Info("no dates to try", "after", entry.LastRegisteredDate)
		return usecases.ServiceResult{}, nil
	}
	logger.Info("trying dates", "count", len(ds), "first", ds[0], "last", ds[len(ds)-1], "slot_length", slotLength)

	return c.pipeline.Run(ctx, remote, usecases.Target{
		RunID:      runID,
		Channel:    ch,
		Entry:      entry,
		SlotLength: slotLength,
	}, ds, mode)
}

// commit advances the watermark to the last date with a confirmed visit.
// A failed write is reported and the cycle goes on; the reservations stand.
func (c *Cycle) commit(ctx context.Context, logger *slog.Logger, ch booking.Channel, key watermark.Key, before string, res usecases.ServiceResult, rep *Report) {
	if res.LastSuccessDate == "" || res.LastSuccessDate <= before {
		return
	}
	// Confirmed visits stand even if the cycle is being cancelled.
	if err := c.store.Set(context.WithoutCancel(ctx), key, res.LastSuccessDate); err != nil {
		logger.Error("watermark write failed", "key", key.String(), "date", res.LastSuccessDate, "kind", internaltypes.Kind(err), "err", err)
		c.report(ctx, ch, fmt.Sprintf("Nie udało się zapisać daty %s dla %s: %v", res.LastSuccessDate, key.ServiceID, err))
		return
	}
	rep.Advanced++
	logger.Info("watermark advanced", "key", key.String(), "from", before, "to", res.LastSuccessDate)
}

// reportAll tells every configured chat once. Used when the whole cycle ends.
func (c *Cycle) reportAll(ctx context.Context, channels []booking.Channel, message string) {
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if seen[ch.ChatID] {
			continue
		}
		seen[ch.ChatID] = true
		c.report(ctx, ch, message)
	}
}

func (c *Cycle) report(ctx context.Context, ch booking.Channel, message string) {
	if ch.ChatID == "" {
		return
	}
	if err := c.notifier.ErrorOccurred(context.WithoutCancel(ctx), ch.ChatID, message); err != nil {
		c.logger.Error("error notification failed", "chat_id", ch.ChatID, "err", err)
	}
}
