package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"reminderq/internal/api"
	"reminderq/internal/config"
	"reminderq/internal/logging"
	"reminderq/internal/usecase"
	"reminderq/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.API.Port
			}
			logger := logging.New(cfg.Log, "reminder-api")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithContext(ctx)

			st, err := worker.OpenStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			log.Ctx(ctx).Info().Msgf("API server using records store: %s", cfg.Store.Records)
			server := api.NewServer(st.Health, st.Deliveries, cfg.Scan.Interval, usecase.NaiveClock(cfg.Scan.UTCOffset))
			return server.Run(ctx, port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on (overrides API_PORT)")
	return command
}
