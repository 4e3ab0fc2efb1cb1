package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/qmatic-scheduler/internal/application/scheduler"
)

func newRunCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run incremental cycles every repeat_minutes, reset cycles when due, and handle Telegram callbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := loadDeps(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer d.Close()

			notifier, dispatcher, err := d.telegram()
			if err != nil {
				return err
			}
			cycle, err := d.cycle(notifier)
			if err != nil {
				return err
			}
			runner := scheduler.NewRunner(scheduler.RunnerConfig{
				Cycle:    cycle,
				Interval: d.settings.RepeatInterval(),
				Reset:    d.resetPolicy(),
				Clock:    d.clock,
				Logger:   d.logger(),
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return runner.Run(gctx) })
			if dispatcher != nil {
				g.Go(func() error { return dispatcher.Run(gctx) })
			}
			d.logger().Info("scheduler started", "repeat", d.settings.RepeatInterval(), "reset_enabled", d.settings.ResetCycle.Enabled)

			err = g.Wait()
			d.logger().Info("scheduler stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "create the database tables on startup when DATABASE_URL is set")
	return cmd
}
