package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

// Marker remembers when the last reset cycle completed.
type Marker interface {
	Due(interval time.Duration) (bool, error)
	Touch() error
}

type ResetPolicy struct {
	Enabled       bool
	Interval      time.Duration
	MaxFutureDays int
	Marker        Marker
}

type RunnerConfig struct {
	Cycle    *Cycle
	Interval time.Duration
	Reset    ResetPolicy
	Clock    clock.Clock
	// Sleep defaults to clock.Sleep.
	Sleep  func(context.Context, time.Duration) error
	Logger *slog.Logger
}

// Runner repeats the incremental cycle every Interval and runs a reset cycle
// whenever the reset marker says one is due.
type Runner struct {
	cycle    *Cycle
	interval time.Duration
	reset    ResetPolicy
	clock    clock.Clock
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		cycle:    cfg.Cycle,
		interval: cfg.Interval,
		reset:    cfg.Reset,
		clock:    cfg.Clock,
		sleep:    cfg.Sleep,
		logger:   cfg.Logger,
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Minute
	}
	if r.clock == nil {
		r.clock = clock.NewRealClock()
	}
	if r.sleep == nil {
		r.sleep = clock.Sleep
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run blocks until ctx is done and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	for {
		r.Tick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("next check scheduled", "in", r.interval)
		if err := r.sleep(ctx, r.interval); err != nil {
			return err
		}
	}
}

// Tick runs one incremental cycle, then a reset cycle if one is due.
// Cycle failures are logged; the next tick starts over.
func (r *Runner) Tick(ctx context.Context) {
	if _, err := r.cycle.RunIncremental(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("incremental cycle aborted, retrying next interval", "err", err)
	}
	if !r.reset.Enabled || r.reset.Marker == nil || ctx.Err() != nil {
		return
	}
	due, err := r.reset.Marker.Due(r.reset.Interval)
	if err != nil {
		r.logger.Error("reset marker unreadable, skipping reset", "err", err)
		return
	}
	if !due {
		return
	}
	if _, err := r.cycle.RunReset(ctx, clock.Today(r.clock), r.reset.MaxFutureDays); err != nil {
		r.logger.Error("reset cycle aborted", "err", err)
		return
	}
	if err := r.reset.Marker.Touch(); err != nil {
		r.logger.Error("reset marker write failed", "err", err)
	}
}
