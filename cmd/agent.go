package cmd

import (
	"reminderq/internal/config"
	"reminderq/internal/worker"

	"github.com/spf13/cobra"
)

func agentCmd() *cobra.Command {
	var workers int

	var command = &cobra.Command{
		Use:   "agent",
		Short: "Run the reminder scan loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Scan.Workers = workers
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return worker.Run(cfg)
		},
	}

	command.Flags().IntVarP(&workers, "workers", "w", 1, "Tasks processed concurrently per run (overrides SCAN_WORKERS)")
	return command
}
