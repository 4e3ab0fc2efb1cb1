package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

func newWatermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect and adjust per-service watermarks",
	}
	cmd.AddCommand(newWatermarkListCmd())
	cmd.AddCommand(newWatermarkSetCmd())
	return cmd
}

func newWatermarkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			d, err := loadDeps(ctx, true)
			if err != nil {
				return err
			}
			defer d.Close()

			entries, err := d.store.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANNEL\tSERVICE\tLAST_REGISTERED_DATE")
			for _, e := range entries {
				date := e.Date
				if date == "" {
					date = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ChannelID, e.ServiceID, date)
			}
			return tw.Flush()
		},
	}
}

func newWatermarkSetCmd() *cobra.Command {
	var (
		channelID string
		serviceID string
		date      string
	)

	c := &cobra.Command{
		Use:   "set",
		Short: "Move a watermark forward (it never moves backwards)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelID == "" || serviceID == "" {
				return internaltypes.Markf(internaltypes.ErrConfiguration, "--channel and --service are required")
			}
			if !booking.IsDate(date) {
				return internaltypes.Markf(internaltypes.ErrConfiguration, "--date must be YYYY-MM-DD, got %q", date)
			}
			ctx := context.Background()
			d, err := loadDeps(ctx, true)
			if err != nil {
				return err
			}
			defer d.Close()

			k := watermark.Key{ChannelID: channelID, ServiceID: serviceID}
			if err := d.store.Set(ctx, k, date); err != nil {
				return err
			}
			now, err := d.store.Get(ctx, k)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, now)
			return nil
		},
	}

	c.Flags().StringVar(&channelID, "channel", "", "channel id")
	c.Flags().StringVar(&serviceID, "service", "", "service id")
	c.Flags().StringVar(&date, "date", "", "new watermark (YYYY-MM-DD)")
	return c
}
