package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/core/config"
	"pillar.vc/assistant/core/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(config.ServiceTypeCLI)
			if err != nil {
				return err
			}
			logger.Setup(cfg)

			database, err := db.New(ctx, cfg.DB)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
