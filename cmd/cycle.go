package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/qmatic-scheduler/internal/application/scheduler"
	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single booking cycle and exit",
	}
	cmd.AddCommand(newCycleIncrementalCmd())
	cmd.AddCommand(newCycleResetCmd())
	return cmd
}

func newCycleIncrementalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "incremental",
		Short: "Try every service from its watermark on and advance the watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := loadDeps(ctx, true)
			if err != nil {
				return err
			}
			defer d.Close()
			notifier, _, err := d.telegram()
			if err != nil {
				return err
			}
			cycle, err := d.cycle(notifier)
			if err != nil {
				return err
			}

			rep, err := cycle.RunIncremental(ctx)
			printReport(cmd, rep)
			return err
		},
	}
}

func newCycleResetCmd() *cobra.Command {
	var (
		startDate     string
		maxFutureDays int
	)

	c := &cobra.Command{
		Use:   "reset",
		Short: "Fill a date window for every service, ignoring and never writing watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := loadDeps(ctx, true)
			if err != nil {
				return err
			}
			defer d.Close()

			start := clock.Today(d.clock)
			if startDate != "" {
				if start, err = time.ParseInLocation(booking.DateLayout, startDate, time.Local); err != nil {
					return internaltypes.Markf(internaltypes.ErrConfiguration, "--start-date must be YYYY-MM-DD, got %q", startDate)
				}
			}
			days := d.settings.ResetCycle.MaxFutureDays
			if cmd.Flags().Changed("max-future-days") {
				days = maxFutureDays
			}
			if days < 0 {
				return internaltypes.Markf(internaltypes.ErrConfiguration, "--max-future-days must be >= 0")
			}

			notifier, _, err := d.telegram()
			if err != nil {
				return err
			}
			cycle, err := d.cycle(notifier)
			if err != nil {
				return err
			}

			rep, err := cycle.RunReset(ctx, start, days)
			printReport(cmd, rep)
			return err
		},
	}

	c.Flags().StringVar(&startDate, "start-date", "", "first day of the window (YYYY-MM-DD), defaults to today")
	c.Flags().IntVar(&maxFutureDays, "max-future-days", 30, "window length in days, defaults to reset_cycle.max_future_days")
	return c
}

func printReport(cmd *cobra.Command, rep scheduler.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "run=%s mode=%s services=%d confirmed=%d advanced=%d failed=%d\n",
		rep.RunID, rep.Mode, rep.Services, rep.Confirmed, rep.Advanced, rep.Failed)
}
