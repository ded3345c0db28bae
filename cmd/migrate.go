package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/techday-registration/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := database.MigrateUp(cfg.DB)
		if err != nil {
			return err
		}
		logger.Info("schema migrated", "version", v)
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default: 1 step)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("steps: %w", err)
			}
			steps = n
		}
		v, err := database.MigrateDown(cfg.DB, steps)
		if err != nil {
			return err
		}
		logger.Info("schema rolled back", "steps", steps, "version", v)
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
