package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"reminderq/internal/config"
	"reminderq/internal/logging"
	"reminderq/internal/worker"

	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log, "reminder-scan")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithContext(ctx)

			summary, err := worker.RunOnce(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	return command
}
