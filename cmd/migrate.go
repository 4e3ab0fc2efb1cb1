package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/qmatic-scheduler/internal/config"
	"github.com/example/qmatic-scheduler/internal/infrastructure/postgres"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the watermark and attempt journal tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return internaltypes.Markf(internaltypes.ErrConfiguration, "DATABASE_URL is required")
			}
			ctx := context.Background()
			pool, err := postgres.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
