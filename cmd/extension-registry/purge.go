package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/extension-registry/internal/database"
	"github.com/bigkaa/goartstore/extension-registry/internal/service"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Однократно удалить soft-deleted записи старше срока хранения",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("подключение к PostgreSQL: %w", err)
		}
		defer pool.Close()

		purgeSvc := service.NewPurgeService(pool, cfg.PurgeHour, cfg.PurgeMinute, logger)
		result, err := purgeSvc.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("очистка: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Deleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
